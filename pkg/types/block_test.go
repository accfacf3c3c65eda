package types

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeID(t *testing.T) {
	id := ComputeID("src/lib.rs", KindCode, 1, 1, "pub fn add() {}")

	// 32-byte hex
	require.Len(t, id, 64)

	// byte-for-byte: sha256 over NUL-separated identity fields
	h := sha256.New()
	h.Write([]byte("src/lib.rs"))
	h.Write([]byte{0})
	h.Write([]byte("code"))
	h.Write([]byte{0})
	h.Write([]byte("1"))
	h.Write([]byte{0})
	h.Write([]byte("1"))
	h.Write([]byte{0})
	h.Write([]byte("pub fn add() {}"))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), id)
}

func TestComputeIDDistinguishesFields(t *testing.T) {
	base := ComputeID("a.go", KindCode, 1, 2, "x")
	assert.NotEqual(t, base, ComputeID("b.go", KindCode, 1, 2, "x"))
	assert.NotEqual(t, base, ComputeID("a.go", KindText, 1, 2, "x"))
	assert.NotEqual(t, base, ComputeID("a.go", KindCode, 2, 2, "x"))
	assert.NotEqual(t, base, ComputeID("a.go", KindCode, 1, 3, "x"))
	assert.NotEqual(t, base, ComputeID("a.go", KindCode, 1, 2, "y"))

	// concatenation can't be confused across separators
	assert.NotEqual(t,
		ComputeID("a.go", KindCode, 11, 2, "x"),
		ComputeID("a.go", KindCode, 1, 12, "x"))
}

func TestBlockValidate(t *testing.T) {
	tests := []struct {
		name    string
		block   Block
		wantErr bool
	}{
		{
			name:  "valid",
			block: Block{Kind: KindCode, Path: "a.go", StartLine: 1, EndLine: 3, Content: "x"},
		},
		{
			name:    "empty content",
			block:   Block{Kind: KindCode, Path: "a.go", StartLine: 1, EndLine: 1},
			wantErr: true,
		},
		{
			name:    "zero start line",
			block:   Block{Kind: KindCode, Path: "a.go", StartLine: 0, EndLine: 1, Content: "x"},
			wantErr: true,
		},
		{
			name:    "end before start",
			block:   Block{Kind: KindCode, Path: "a.go", StartLine: 5, EndLine: 4, Content: "x"},
			wantErr: true,
		},
		{
			name:    "bad kind",
			block:   Block{Kind: "binary", Path: "a.go", StartLine: 1, EndLine: 1, Content: "x"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.block.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSearchModeKinds(t *testing.T) {
	assert.Equal(t, []BlockKind{KindCode, KindDoc, KindText}, ModeAll.Kinds())
	assert.Equal(t, []BlockKind{KindCode}, ModeCode.Kinds())
	assert.Equal(t, []BlockKind{KindDoc}, ModeDocs.Kinds())
	assert.Equal(t, []BlockKind{KindText}, ModeText.Kinds())
}

func TestMemoryTypeSet(t *testing.T) {
	for _, mt := range AllMemoryTypes {
		parsed, err := ParseMemoryType(string(mt))
		require.NoError(t, err)
		assert.Equal(t, mt, parsed)
	}
	_, err := ParseMemoryType("vibes")
	assert.Error(t, err)
}
