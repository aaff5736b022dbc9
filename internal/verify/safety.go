package verify

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Verdict is the safety classification of a command.
type Verdict int

const (
	// VerdictSafe commands execute normally.
	VerdictSafe Verdict = iota

	// VerdictSuspicious commands are logged and executed anyway. This is a
	// policy choice: they look unusual but are not destructive per se.
	VerdictSuspicious

	// VerdictBlocked commands are never executed.
	VerdictBlocked
)

func (v Verdict) String() string {
	switch v {
	case VerdictSafe:
		return "safe"
	case VerdictSuspicious:
		return "suspicious"
	case VerdictBlocked:
		return "blocked"
	}
	return "unknown"
}

// Classification pairs a verdict with the rule that produced it.
type Classification struct {
	Verdict Verdict
	Reason  string
}

// denyRule patterns produce VerdictBlocked. They target irreversibly
// destructive invocations, not merely unusual ones.
type patternRule struct {
	re     *regexp.Regexp
	reason string
}

var denyRules = []patternRule{
	{regexp.MustCompile(`(^|[;&|]\s*)rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rf][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*(/|/\*)(\s|$)`), "recursive force-delete of filesystem root"},
	{regexp.MustCompile(`(^|[;&|]\s*)rm\s+-rf?\s+~(\s|/\*|$)`), "recursive force-delete of home directory"},
	{regexp.MustCompile(`\bdd\s+[^|;&]*of=/dev/(sd|hd|nvme|disk)`), "raw write to a disk device"},
	{regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|disk)`), "raw write to a disk device"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`(^|[;&|]\s*)(sudo|doas|su)\b`), "privilege escalation"},
	{regexp.MustCompile(`(^|[;&|]\s*)(shutdown|reboot|halt|poweroff)\b`), "host shutdown"},
	{regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*\s+)*-R\s+777\s+/(\s|$)`), "recursive world-writable root"},
}

var watchRules = []patternRule{
	{regexp.MustCompile(`(^|[;&|]\s*)rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rf][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*/\S+`), "recursive delete with an absolute path"},
	{regexp.MustCompile(`\b(curl|wget)\b[^|;&]*\|\s*(ba|z|da)?sh\b`), "piping a download into a shell"},
	{regexp.MustCompile(`\bnc\s+[^|;&]*\s-e\b`), "netcat with command execution"},
	{regexp.MustCompile(`(^|[;&|]\s*)(nohup|setsid)\b`), "daemonizing invocation"},
	{regexp.MustCompile(`&\s*$`), "backgrounded command"},
	{regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*\s+)*-R\b`), "broad recursive permission change"},
}

// Classifier decides whether a command may run. It is deterministic and
// side-effect free; nothing executes during classification.
type Classifier struct {
	projectRoot string
}

// NewClassifier creates a classifier bounded to projectRoot. Commands whose
// working directory resolves outside the root are blocked.
func NewClassifier(projectRoot string) (*Classifier, error) {
	if projectRoot == "" {
		return nil, fmt.Errorf("project root cannot be empty")
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	return &Classifier{projectRoot: abs}, nil
}

// Classify normalizes whitespace in command and matches it against the deny
// and watch lists, then validates cwd against the project root boundary.
func (c *Classifier) Classify(command, cwd string) Classification {
	normalized := strings.Join(strings.Fields(command), " ")

	if normalized == "" {
		return Classification{Verdict: VerdictBlocked, Reason: "empty command"}
	}

	if reason, ok := c.outsideRoot(cwd); ok {
		return Classification{Verdict: VerdictBlocked, Reason: reason}
	}

	for _, rule := range denyRules {
		if rule.re.MatchString(normalized) {
			return Classification{Verdict: VerdictBlocked, Reason: rule.reason}
		}
	}

	for _, rule := range watchRules {
		if rule.re.MatchString(normalized) {
			return Classification{Verdict: VerdictSuspicious, Reason: rule.reason}
		}
	}

	return Classification{Verdict: VerdictSafe}
}

// outsideRoot reports whether cwd resolves outside the project root.
func (c *Classifier) outsideRoot(cwd string) (string, bool) {
	if cwd == "" {
		return "", false
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return fmt.Sprintf("unresolvable working directory %q", cwd), true
	}
	rel, err := filepath.Rel(c.projectRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Sprintf("working directory %q is outside the project root", cwd), true
	}
	return "", false
}
