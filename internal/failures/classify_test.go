// ABOUTME: Tests for the test-command classifier
// ABOUTME: Table of known runner invocations and non-test lookalikes

package failures

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTestCommand(t *testing.T) {
	tests := []struct {
		command   string
		framework string
		ok        bool
	}{
		{"go test ./...", "go test", true},
		{"cd pkg && go test -run TestFoo -v", "go test", true},
		{"pytest tests/", "pytest", true},
		{"py.test -x", "pytest", true},
		{"python -m pytest tests/unit", "pytest", true},
		{"python3 -m pytest", "pytest", true},
		{"cargo test --workspace", "cargo test", true},
		{"cargo nextest run", "cargo test", true},
		{"npx jest --coverage", "jest", true},
		{"jest src/", "jest", true},
		{"npx vitest run", "vitest", true},
		{"npx mocha test/", "mocha", true},
		{"bundle exec rspec spec/models", "rspec", true},
		{"rspec", "rspec", true},
		{"./vendor/bin/phpunit", "phpunit", true},
		{"mix test", "mix test", true},
		{"./gradlew test", "gradle test", true},
		{"gradle test --info", "gradle test", true},
		{"mvn test", "maven test", true},
		{"mvn -pl core test", "maven test", true},
		{"bundle exec rake test", "rake test", true},
		{"npm test", "npm test", true},
		{"npm run test -- --watch", "npm test", true},
		{"yarn test", "yarn test", true},
		{"pnpm run test", "pnpm test", true},

		{"go build ./...", "", false},
		{"got testy with it", "", false},
		{"ls -la", "", false},
		{"npm install", "", false},
		{"cargo build --release", "", false},
		{"echo pytest", "pytest", true}, // pattern match is intentionally loose
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			framework, ok := IsTestCommand(tt.command)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.framework, framework)
		})
	}
}
