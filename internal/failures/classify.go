// ABOUTME: Pure classifier mapping shell commands to known test frameworks
// ABOUTME: Stateless pattern matching, decoupled from the failure counters

package failures

import "regexp"

// framework pairs a display name with the invocation pattern that
// identifies it. Order matters: more specific runners come before the
// package-manager catch-alls.
type framework struct {
	name    string
	pattern *regexp.Regexp
}

var frameworks = []framework{
	{"go test", regexp.MustCompile(`(^|\s)go\s+test(\s|$)`)},
	{"pytest", regexp.MustCompile(`(^|\s)(pytest|py\.test)(\s|$)|python3?\s+-m\s+pytest`)},
	{"cargo test", regexp.MustCompile(`(^|\s)cargo\s+(nextest\s+run|test)(\s|$)`)},
	{"jest", regexp.MustCompile(`(^|\s)(npx\s+)?jest(\s|$)`)},
	{"vitest", regexp.MustCompile(`(^|\s)(npx\s+)?vitest(\s|$)`)},
	{"mocha", regexp.MustCompile(`(^|\s)(npx\s+)?mocha(\s|$)`)},
	{"rspec", regexp.MustCompile(`(^|\s)(bundle\s+exec\s+)?rspec(\s|$)`)},
	{"phpunit", regexp.MustCompile(`(^|\s)(\./vendor/bin/)?phpunit(\s|$)`)},
	{"mix test", regexp.MustCompile(`(^|\s)mix\s+test(\s|$)`)},
	{"gradle test", regexp.MustCompile(`(^|\s)(\./)?gradlew?\s+test(\s|$)`)},
	{"maven test", regexp.MustCompile(`(^|\s)mvn\s+([\w.:-]+\s+)*test(\s|$)`)},
	{"rake test", regexp.MustCompile(`(^|\s)(bundle\s+exec\s+)?rake\s+test(\s|$)`)},
	{"npm test", regexp.MustCompile(`(^|\s)npm\s+(run\s+)?test(\s|$)`)},
	{"yarn test", regexp.MustCompile(`(^|\s)yarn\s+(run\s+)?test(\s|$)`)},
	{"pnpm test", regexp.MustCompile(`(^|\s)pnpm\s+(run\s+)?test(\s|$)`)},
}

// IsTestCommand reports whether command invokes a known test runner and,
// if so, which framework.
func IsTestCommand(command string) (string, bool) {
	for _, fw := range frameworks {
		if fw.pattern.MatchString(command) {
			return fw.name, true
		}
	}
	return "", false
}
