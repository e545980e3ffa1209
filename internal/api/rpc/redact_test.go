package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"email address",
			"postgres auth failed for alice@example.com",
			"postgres auth failed for [email]",
		},
		{
			"bearer token",
			`request rejected: Authorization: Bearer sk-abc123.DEF_456 expired`,
			"request rejected: Authorization: Bearer [redacted] expired",
		},
		{
			"access token query param",
			"GET https://api.example.io/v1/embed?access_token=tok-9f8e7d&model=small failed",
			"GET https://api.example.io/v1/embed?access_token=[redacted]&model=small failed",
		},
		{
			"linux home path",
			"open /home/alice/projects/engram/data/engram.db: permission denied",
			"open /home/[user]/projects/engram/data/engram.db: permission denied",
		},
		{
			"macos home path",
			"open /Users/Alice/engram.yaml: no such file",
			"open /Users/[user]/engram.yaml: no such file",
		},
		{
			"clean message untouched",
			"memory service is not initialized",
			"memory service is not initialized",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Redact(tc.in))
		})
	}
}
