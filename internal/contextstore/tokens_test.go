package contextstore

import (
	"strings"
	"testing"

	"github.com/sonatahq/sonata/pkg/models"
)

func TestTokenCostExactValues(t *testing.T) {
	tests := []struct {
		name    string
		role    models.Role
		content string
		want    int
	}{
		// 11/3 + 1 whitespace + 4 role = 8.667; round(4.333) = 4
		{"simple user message", models.RoleUser, "hello world", 4},
		// 3/3 + 1 special + 9 role = 11; round(5.5) = 6
		{"punctuated assistant message", models.RoleAssistant, "Hi!", 6},
		// 168/3 + 4 role = 60; round(30) = 30
		{"long letters-only message", models.RoleUser, strings.Repeat("a", 168), 30},
		// 6/3 + 1 whitespace + 1 special + 6 role = 10; round(5) = 5
		{"mixed content", models.RoleSystem, "ab cd.", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenCost(tt.role, tt.content); got != tt.want {
				t.Errorf("TokenCost(%q, %q) = %d, want %d", tt.role, tt.content, got, tt.want)
			}
		})
	}
}

func TestTokenCostCountsRunesNotBytes(t *testing.T) {
	// 30 two-byte runes: 30/3 + 4 role = 14; round(7) = 7. Byte counting
	// would see 60 characters and yield 12.
	if got := TokenCost(models.RoleUser, strings.Repeat("é", 30)); got != 7 {
		t.Errorf("rune-based cost = %d, want 7", got)
	}
}
