package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKeyHex(t *testing.T) {
	a := HashKeyHex([]byte("pepper"), "secret")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKeyHex([]byte("pepper"), "secret"))
	assert.NotEqual(t, a, HashKeyHex([]byte("other"), "secret"))
	assert.NotEqual(t, a, HashKeyHex([]byte("pepper"), "Secret"))
}

func TestKeyContext(t *testing.T) {
	_, ok := KeyFrom(context.Background())
	assert.False(t, ok)

	info := &APIKeyInfo{ID: "k1", Scopes: []string{ScopeCreateOrder}}
	got, ok := KeyFrom(WithKey(context.Background(), info))
	assert.True(t, ok)
	assert.Same(t, info, got)
	assert.True(t, got.HasScope(ScopeCreateOrder))
	assert.False(t, got.HasScope(ScopeManageUpsell))
}
