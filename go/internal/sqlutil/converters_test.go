package sqlutil

import (
	"database/sql"
	"testing"
)

func TestNullableStringRoundTrip(t *testing.T) {
	t.Parallel()
	if NullableString("").Valid {
		t.Fatal("empty string should be NULL")
	}
	if got := FromSqlString(NullableString("locked"), ""); got != "locked" {
		t.Fatalf("got %q", got)
	}
	if got := FromSqlString(sql.NullString{}, "none"); got != "none" {
		t.Fatalf("expected default, got %q", got)
	}
}
