package featuremap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetDoesNotOverrideByDefault(t *testing.T) {
	m := New()
	m.Set("x", "1", false)
	m.Set("x", "2", false)

	v, err := m.Get("", "x")
	require.NoError(t, err)
	require.Equal(t, "1", v)
}

func TestSetOverride(t *testing.T) {
	m := New()
	m.Set("x", "1", false)
	m.Set("x", "2", true)

	v, err := m.Get("", "x")
	require.NoError(t, err)
	require.Equal(t, "2", v)
}

func TestSetKVAlwaysOverrides(t *testing.T) {
	m := New()
	m.Set("x", "1", false)
	require.NoError(t, m.SetKV("x=2"))

	v, err := m.Get("", "x")
	require.NoError(t, err)
	require.Equal(t, "2", v)
}

func TestSetKVRejectsMalformed(t *testing.T) {
	m := New()
	require.Error(t, m.SetKV("nokvhere"))
}

func TestGetMissing(t *testing.T) {
	m := New()
	_, err := m.Get("", "missing")
	require.Error(t, err)
	var nsk ErrNoSuchKey
	require.ErrorAs(t, err, &nsk)
}

func TestPerPackageLookupPrefersPackageScoped(t *testing.T) {
	m := New()
	m.Set("x", "global", false)
	m.Set("pkg:x", "scoped", false)

	v, err := m.Get("pkg", "x")
	require.NoError(t, err)
	require.Equal(t, "scoped", v)

	v, err = m.Get("other", "x")
	require.NoError(t, err)
	require.Equal(t, "global", v)
}

func TestIgnore(t *testing.T) {
	m := New()
	require.False(t, m.Ignored("x"))
	m.Ignore("x")
	require.True(t, m.Ignored("x"))
}
