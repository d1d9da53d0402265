package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderProducesValidatedMigration(t *testing.T) {
	m, err := NewBuilder("0001_users", "create users").
		UpSQL("CREATE TABLE users (id INT)").
		DownSQL("DROP TABLE users").
		Description("initial users table").
		DependsOn("0000_base").
		Destructive(false).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "0001_users", m.ID)
	assert.Equal(t, "create users", m.Name)
	assert.Equal(t, []string{"0000_base"}, m.Dependencies)
	assert.False(t, m.Destructive)
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewBuilder("", "x").UpSQL("SELECT 1").Build()
	assert.Error(t, err, "empty id")

	_, err = NewBuilder("a", "").UpSQL("SELECT 1").Build()
	assert.Error(t, err, "empty name")

	_, err = NewBuilder("a", "x").Build()
	assert.Error(t, err, "empty up SQL")

	_, err = NewBuilder("a", "x").UpSQL("SELECT 1").DependsOn("a").Build()
	assert.Error(t, err, "self dependency")

	_, err = NewBuilder("a", "x").UpSQL("SELECT 1").DependsOn("b", "b").Build()
	assert.Error(t, err, "duplicate dependency")
}

func TestChecksumTracksUpSQLOnly(t *testing.T) {
	a := NewBuilder("a", "x").UpSQL("CREATE TABLE t (id INT)").MustBuild()
	b := NewBuilder("a", "renamed").UpSQL("CREATE TABLE t (id INT)").DownSQL("DROP TABLE t").MustBuild()
	c := NewBuilder("a", "x").UpSQL("CREATE TABLE t (id BIGINT)").MustBuild()

	assert.Equal(t, a.Checksum(), b.Checksum(), "name and down SQL do not affect the checksum")
	assert.NotEqual(t, a.Checksum(), c.Checksum(), "up SQL changes the checksum")
	assert.Len(t, a.Checksum(), 64)
}

func TestMustBuildPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder("", "").MustBuild()
	})
}
