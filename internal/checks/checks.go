package checks

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/changeling/internal/docstore"
	"github.com/roach88/changeling/internal/ir"
)

// Severity grades a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one policy violation.
type Finding struct {
	Check    string         `json:"check"`
	Severity Severity       `json:"severity"`
	ID       ir.ChangesetID `json:"id"`
	Source   ir.SourcePos   `json:"source"`
	Message  string         `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s [%s] %s: %s", f.Source, f.Severity, f.Check, f.ID, f.Message)
}

// Config tunes the checks.
type Config struct {
	// ContextLadder is the ordered promotion path, e.g. int, uat, prd.
	// When set, a changeset's contexts must be a prefix of it.
	ContextLadder []string

	// LabelPattern, when set, must match at least one label of every changeset.
	LabelPattern *regexp.Regexp

	// DomainKeys are the data-domain identifiers collections must carry.
	DomainKeys []DomainKey

	// Disabled lists check ids to skip.
	Disabled []string
}

// Check is one named policy.
type Check struct {
	ID          string
	Severity    Severity
	Description string
	run         func(c *subject, cfg Config) []string
}

// subject is a changeset plus its decoded statements.
type subject struct {
	cs       ir.Changeset
	forward  []docstore.Statement
	parseErr error
}

// All returns every check in reporting order.
func All() []Check {
	return []Check{
		{ID: "statement-syntax", Severity: SeverityError, Description: "mongo-shell operations must parse", run: checkSyntax},
		{ID: "collection-without-validator", Severity: SeverityError, Description: "createCollection must declare a $jsonSchema validator", run: checkValidatorPresent},
		{ID: "validator-schema", Severity: SeverityError, Description: "$jsonSchema validators must compile", run: checkValidatorSchema},
		{ID: "domain-key-required", Severity: SeverityError, Description: "domain collections must require their key field", run: checkDomainKeyRequired},
		{ID: "domain-key-attributes", Severity: SeverityError, Description: "domain key fields must declare bsonType and maxLength", run: checkDomainKeyAttributes},
		{ID: "collection-name-camelcase", Severity: SeverityError, Description: "collection names must be camelCase or PascalCase", run: checkCollectionName},
		{ID: "delete-without-filter", Severity: SeverityError, Description: "forward operations must not delete every document", run: checkDeleteFilter},
		{ID: "pii-ssn", Severity: SeverityError, Description: "writes must not contain raw social security numbers", run: checkSSN},
		{ID: "pii-pan", Severity: SeverityError, Description: "writes must not contain raw card numbers", run: checkPAN},
		{ID: "rollback-required", Severity: SeverityWarning, Description: "changesets should declare a rollback", run: checkRollback},
		{ID: "context-allowed", Severity: SeverityError, Description: "contexts must follow the promotion ladder", run: checkContext},
		{ID: "label-pattern", Severity: SeverityError, Description: "a label must match the configured pattern", run: checkLabel},
	}
}

// Run applies every enabled check to every changeset, in changelog order.
func Run(changesets []ir.Changeset, cfg Config) []Finding {
	findings := []Finding{}
	checks := All()
	for _, cs := range changesets {
		subj := &subject{cs: cs}
		if docstore.SupportsKind(cs.Forward.Kind) {
			subj.forward, subj.parseErr = docstore.ParseStatements(cs.Forward.Body)
		}
		for _, c := range checks {
			if slices.Contains(cfg.Disabled, c.ID) {
				continue
			}
			for _, msg := range c.run(subj, cfg) {
				findings = append(findings, Finding{
					Check:    c.ID,
					Severity: c.Severity,
					ID:       cs.ID,
					Source:   cs.Source,
					Message:  msg,
				})
			}
		}
	}
	return findings
}

// HasErrors reports whether any finding is error severity.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

func checkSyntax(s *subject, _ Config) []string {
	var out []string
	if s.parseErr != nil {
		out = append(out, "forward: "+s.parseErr.Error())
	}
	if s.cs.HasRollback() && docstore.SupportsKind(s.cs.Rollback.Kind) {
		if _, err := docstore.ParseStatements(s.cs.Rollback.Body); err != nil {
			out = append(out, "rollback: "+err.Error())
		}
	}
	return out
}

func createCollections(s *subject) []docstore.Statement {
	var out []docstore.Statement
	for _, st := range s.forward {
		if st.Collection == "" && st.Method == "createCollection" {
			out = append(out, st)
		}
	}
	return out
}

func collectionName(st docstore.Statement) string {
	if len(st.Args) == 0 {
		return ""
	}
	name, _ := st.Args[0].(string)
	return name
}

func checkValidatorPresent(s *subject, _ Config) []string {
	var out []string
	for _, st := range createCollections(s) {
		if len(st.Args) < 2 {
			out = append(out, fmt.Sprintf("collection %q is created without a validator", collectionName(st)))
			continue
		}
		if _, ok, _ := docstore.ValidatorFromOptions(st.Args[1]); !ok {
			out = append(out, fmt.Sprintf("collection %q is created without a validator", collectionName(st)))
		}
	}
	return out
}

func checkValidatorSchema(s *subject, _ Config) []string {
	var out []string
	for _, st := range createCollections(s) {
		if len(st.Args) < 2 {
			continue
		}
		js, ok, err := docstore.ValidatorFromOptions(st.Args[1])
		if err != nil {
			out = append(out, fmt.Sprintf("collection %q: %v", collectionName(st), err))
			continue
		}
		if !ok {
			continue
		}
		if _, _, err := docstore.CompileValidator(js); err != nil {
			out = append(out, fmt.Sprintf("collection %q: %v", collectionName(st), err))
		}
	}
	return out
}

var camelCase = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

// isCamelCase accepts letters and digits, starting with a letter, with
// both lower and upper case present ("orderItems", "Organizations").
func isCamelCase(name string) bool {
	return camelCase.MatchString(name) &&
		strings.ToLower(name) != name &&
		strings.ToUpper(name) != name
}

func checkCollectionName(s *subject, _ Config) []string {
	var out []string
	for _, st := range createCollections(s) {
		if name := collectionName(st); !isCamelCase(name) {
			out = append(out, fmt.Sprintf("collection name %q is not camelCase", name))
		}
	}
	return out
}

func checkDeleteFilter(s *subject, _ Config) []string {
	var out []string
	for _, st := range s.forward {
		if st.Method != "deleteMany" || len(st.Args) == 0 {
			continue
		}
		if filter, ok := st.Args[0].(map[string]any); ok && len(filter) == 0 {
			out = append(out, fmt.Sprintf("%s({}) deletes every document", st.Target()))
		}
	}
	return out
}

func checkRollback(s *subject, _ Config) []string {
	if s.cs.HasRollback() {
		return nil
	}
	return []string{"no rollback defined"}
}

func checkContext(s *subject, cfg Config) []string {
	if len(cfg.ContextLadder) == 0 {
		return nil
	}
	contexts := s.cs.Context.Contexts
	want := cfg.ContextLadder
	if len(contexts) > 0 && len(contexts) <= len(want) {
		prefix := want[:len(contexts)]
		ok := true
		for _, c := range contexts {
			if !slices.ContainsFunc(prefix, func(p string) bool { return strings.EqualFold(p, c) }) {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
	}
	return []string{fmt.Sprintf("contexts %q must be a prefix of %q", strings.Join(contexts, ","), strings.Join(want, ","))}
}

func checkLabel(s *subject, cfg Config) []string {
	if cfg.LabelPattern == nil {
		return nil
	}
	for _, l := range s.cs.Labels {
		if cfg.LabelPattern.MatchString(l) {
			return nil
		}
	}
	return []string{fmt.Sprintf("no label matches %s", cfg.LabelPattern)}
}
