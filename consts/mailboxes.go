package consts

// MailboxDelimiter separates hierarchy levels in folder names.
const MailboxDelimiter = '/'

// DefaultFolder is where mail lands when no rule files it elsewhere.
const DefaultFolder = "INBOX"

// SystemFolders are never suggested as a filing target.
var SystemFolders = []string{
	"INBOX",
	"Trash",
	"Spam",
	"Junk",
	"Sent",
}

// IsSystemFolder reports whether name is one of SystemFolders.
func IsSystemFolder(name string) bool {
	for _, f := range SystemFolders {
		if f == name {
			return true
		}
	}
	return false
}
