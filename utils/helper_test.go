package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestParseTimestampForms(t *testing.T) {
	want := time.Date(2024, 5, 1, 8, 30, 15, 0, time.UTC)
	for _, in := range []string{
		"2024-05-01T08:30:15Z",
		"2024-05-01T08:30:15",
		"2024-05-01 08:30:15",
		"2024-05-01T15:00:15+06:30",
		" 2024-05-01T08:30:15.000Z ",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), "%s parsed as %s", in, got)
		require.Equal(t, time.UTC, got.Location())
	}

	day, err := ParseTimestamp("2024-05-20")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseTimestamp("01/05/2024")
	require.Error(t, err)
	_, err = ParseTimestamp("")
	require.Error(t, err)
}

func TestParseOptionalTimestamp(t *testing.T) {
	got, err := ParseOptionalTimestamp(nil)
	require.NoError(t, err)
	require.Nil(t, got)

	blank := "  "
	got, err = ParseOptionalTimestamp(&blank)
	require.NoError(t, err)
	require.Nil(t, got)

	bad := "yesterday"
	_, err = ParseOptionalTimestamp(&bad)
	require.Error(t, err)
}

func TestNormalizePhoneNumber(t *testing.T) {
	got, err := NormalizePhoneNumber("(650) 253-0000", "US")
	require.NoError(t, err)
	require.Equal(t, "+16502530000", got)

	got, err = NormalizePhoneNumber("+1 650-253-0000", "SG")
	require.NoError(t, err)
	require.Equal(t, "+16502530000", got)

	_, err = NormalizePhoneNumber("12", "US")
	require.Error(t, err)
}

func TestDereferencePtr(t *testing.T) {
	require.Equal(t, 0, DereferencePtr[int](nil))
	require.Equal(t, true, DereferencePtr[bool](nil, true))
	f := false
	require.Equal(t, false, DereferencePtr(&f, true))
	require.Nil(t, NilIfEmpty(" "))
	require.Equal(t, "x", *NilIfEmpty("x"))
}

func TestStoreErrorClassification(t *testing.T) {
	require.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	require.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &mysqlDriver.MySQLError{Number: 1062})))
	require.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: requests.request_id")))
	require.False(t, IsDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1452}))
	require.False(t, IsDuplicateKeyErr(nil))

	require.True(t, IsForeignKeyErr(gorm.ErrForeignKeyViolated))
	require.True(t, IsForeignKeyErr(&mysqlDriver.MySQLError{Number: 1452}))
	require.True(t, IsForeignKeyErr(errors.New("FOREIGN KEY constraint failed")))
	require.False(t, IsForeignKeyErr(errors.New("boom")))
}
