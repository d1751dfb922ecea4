package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/migadu/sieveforge/analyze"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/corpus"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
	"github.com/migadu/sieveforge/lint"
	"github.com/migadu/sieveforge/sieveengine"
	"github.com/migadu/sieveforge/storage"
)

// Request/Response types

type GenerateResponse struct {
	*analyze.Generated
	Report string            `json:"report"`
	Stored *storage.Metadata `json:"stored,omitempty"`
}

type ValidateResponse struct {
	Valid  bool                   `json:"valid"`
	Issues []lint.ValidationIssue `json:"issues"`
	Counts map[lint.Severity]int  `json:"counts"`
	Report string                 `json:"report"`
}

// MessagesRequest carries raw RFC 5322 messages.
type MessagesRequest struct {
	Messages []string `json:"messages"`
}

type TestRequest struct {
	Script   string   `json:"script"`
	Messages []string `json:"messages"`
}

type RuleCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type MismatchInfo struct {
	Index   int    `json:"index"`
	Subject string `json:"subject"`
	Matcher string `json:"matcher"`
	Sieve   string `json:"sieve"`
}

type TestResponse struct {
	Total      int            `json:"total"`
	Matched    int            `json:"matched"`
	MatchRate  float64        `json:"match_rate"`
	ByRule     []RuleCount    `json:"by_rule"`
	Mismatches []MismatchInfo `json:"mismatches"`
	Report     string         `json:"report"`
}

type ScriptListResponse struct {
	Scripts []storage.Metadata `json:"scripts"`
	Total   int                `json:"total"`
}

// Handlers

// handleGenerate takes a JSON or YAML category document. With ?save=name
// the script is stored under that name when lint found no errors.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	gen, err := s.pipeline.GenerateFromDocument("http", data)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := GenerateResponse{Generated: gen, Report: lint.FormatIssuesReport(gen.Issues)}
	if name := r.URL.Query().Get("save"); name != "" {
		if s.repo == nil {
			s.writeError(w, http.StatusServiceUnavailable, "Script storage is not configured")
			return
		}
		if gen.HasErrors() {
			s.writeJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
		md, err := s.repo.Save(r.Context(), name, gen.Script)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		resp.Stored = &md
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleValidate lints a Sieve script sent as the request body.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	issues, err := s.pipeline.LintScript(string(data))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, validateResponse(issues))
}

func validateResponse(issues []lint.ValidationIssue) ValidateResponse {
	if issues == nil {
		issues = []lint.ValidationIssue{}
	}
	return ValidateResponse{
		Valid:  !lint.HasErrors(issues),
		Issues: issues,
		Counts: lint.Counts(issues),
		Report: lint.FormatIssuesReport(issues),
	}
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	f, err := filter.ParseScript(req.Script)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	emails, err := parseMessages(req.Messages)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	run, err := s.pipeline.DryRun(r.Context(), f, emails)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := TestResponse{
		Total:      run.Test.TotalEmails,
		Matched:    run.Test.MatchedEmails,
		MatchRate:  run.Test.MatchRate,
		ByRule:     make([]RuleCount, 0, len(run.Test.MatchesByRule)),
		Mismatches: make([]MismatchInfo, 0, len(run.CrossCheck.Mismatches)),
		Report:     run.Report,
	}
	for _, rc := range run.Test.MatchesByRule {
		resp.ByRule = append(resp.ByRule, RuleCount{Name: rc.Name, Count: rc.Count})
	}
	index := make(map[*email.Email]int, len(emails))
	for i, e := range emails {
		index[e] = i
	}
	for _, m := range run.CrossCheck.Mismatches {
		resp.Mismatches = append(resp.Mismatches, MismatchInfo{
			Index:   index[m.Email],
			Subject: m.Email.Subject,
			Matcher: m.Matcher,
			Sieve:   m.Sieve,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req MessagesRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	emails, err := parseMessages(req.Messages)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.pipeline.Detect(emails))
}

func parseMessages(raw []string) ([]*email.Email, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no messages given", consts.ErrInvalidInput)
	}
	emails := make([]*email.Email, 0, len(raw))
	for i, m := range raw {
		e, err := corpus.ParseMessage(strings.NewReader(m), "")
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", consts.ErrInvalidInput, i, err)
		}
		emails = append(emails, e)
	}
	return emails, nil
}

func (s *Server) requireRepo(w http.ResponseWriter) bool {
	if s.repo == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Script storage is not configured")
		return false
	}
	return true
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	scripts, err := s.repo.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if scripts == nil {
		scripts = []storage.Metadata{}
	}
	s.writeJSON(w, http.StatusOK, ScriptListResponse{Scripts: scripts, Total: len(scripts)})
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	script, err := s.repo.Load(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/sieve") {
		w.Header().Set("Content-Type", "application/sieve")
		w.Write([]byte(script.Script))
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

// handlePutScript stores the request body after go-sieve accepted it.
func (s *Server) handlePutScript(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := sieveengine.CheckScript(string(data), s.pipeline.Extensions); err != nil {
		s.writeDomainError(w, err)
		return
	}
	md, err := s.repo.Save(r.Context(), mux.Vars(r)["name"], string(data))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	if err := s.repo.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.repo != nil {
		n, err := s.repo.Count(r.Context())
		if err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		resp["scripts"] = n
	}
	s.writeJSON(w, http.StatusOK, resp)
}
