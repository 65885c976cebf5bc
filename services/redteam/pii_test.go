package redteam

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindPII(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []PIIKind
	}{
		{"none", "summarise the quarterly report", nil},
		{"email", "mail jane.doe@example.com the summary", []PIIKind{PIIEmail}},
		{"ssn", "ssn is 123-45-6789", []PIIKind{PIISSN}},
		{"invalid ssn", "ref 000-12-3456", nil},
		{"valid card", "card 4111111111111111 on file", []PIIKind{PIICreditCard}},
		{"card failing luhn", "card 4111111111111112 on file", nil},
		{"ip address", "server 10.0.0.12 is down", []PIIKind{PIIIPAddress}},
		{"phone", "call (555) 123-4567 tomorrow", []PIIKind{PIIPhone}},
		{"mixed", "a@b.io or 555-123-4567", []PIIKind{PIIEmail, PIIPhone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []PIIKind
			for _, m := range FindPII(tt.text) {
				got = append(got, m.Kind)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "no personal data", Redact("no personal data"))
	assert.Equal(t,
		"contact [EMAIL] about card [CREDIT_CARD]",
		Redact("contact ops@example.com about card 4111111111111111"))
}

func TestScan_ReportsPIIKinds(t *testing.T) {
	result := Scan("send 123-45-6789 to x@y.com, then x@z.com")
	assert.Equal(t, []PIIKind{PIISSN, PIIEmail}, result.PII)
	assert.Zero(t, result.RiskScore)
}
