package generator

import "strings"

type priorityBucket struct {
	priority int
	keywords []string
}

// priorityBuckets are tested in order; the first bucket with a keyword
// occurring in the lower-cased "name description" wins.
var priorityBuckets = []priorityBucket{
	{PrioritySecurity, []string{"security", "alert", "warning", "critical", "urgent", "notification"}},
	{PriorityFinance, []string{"finance", "bank", "payment", "invoice", "receipt", "bill", "paypal", "stripe"}},
	{PriorityWork, []string{"work", "github", "gitlab", "ci/cd", "ci-cd", "code", "deploy", "meeting", "slack"}},
	{PriorityShopping, []string{"shop", "order", "shipping", "delivery", "amazon", "ebay", "purchase"}},
	{PrioritySocial, []string{"social", "facebook", "twitter", "linkedin", "instagram", "message"}},
	{PriorityPromotions, []string{"newsletter", "promotion", "marketing", "ad", "offer", "subscribe"}},
}

const (
	PrioritySecurity   = 0
	PriorityFinance    = 10
	PriorityWork       = 20
	PriorityShopping   = 30
	PrioritySocial     = 40
	PriorityPromotions = 50
	PriorityOther      = 60
)

// PriorityOf returns the ordering bucket of a category. Lower runs earlier.
func PriorityOf(c CategoryPattern) int {
	combined := strings.ToLower(c.Name) + " " + strings.ToLower(c.Description)
	for _, b := range priorityBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(combined, kw) {
				return b.priority
			}
		}
	}
	return PriorityOther
}
