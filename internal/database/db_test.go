package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

// TestOpen_ReturnsDBForAnyURL はsql.Openは接続を試行しないため、
// 不正なURLでもDBオブジェクトが返ることを検証する。
func TestOpen_ReturnsDBForAnyURL(t *testing.T) {
	db, err := Open("postgres://invalid")
	if err != nil {
		t.Fatalf("Open returned unexpected error: %v", err)
	}
	if db == nil {
		t.Fatal("expected non-nil db")
	}
	defer db.Close()
}

func TestIsUniqueViolation(t *testing.T) {
	activeIdx := &pq.Error{Code: "23505", Constraint: "trackpay_sessions_one_active_idx"}
	checkErr := &pq.Error{Code: "23514", Constraint: "trackpay_invites_claim_consistency"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"一致する制約名", activeIdx, "trackpay_sessions_one_active_idx", true},
		{"制約名指定なし", activeIdx, "", true},
		{"異なる制約名", activeIdx, "trackpay_invites_code_key", false},
		{"ラップされたエラー", fmt.Errorf("insert: %w", activeIdx), "trackpay_sessions_one_active_idx", true},
		{"CHECK制約違反", checkErr, "", false},
		{"pq以外のエラー", errors.New("boom"), "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
