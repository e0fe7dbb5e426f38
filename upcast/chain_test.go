package upcast

import (
	"encoding/json"
	"testing"

	"github.com/jules-labs/go-cqrskit/cqerrs"
	"github.com/jules-labs/go-cqrskit/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type todoV1 struct {
	ID   string `json:"id"`
	Task string `json:"task"`
}

type todoV2 struct {
	todoV1
	Priority int `json:"priority"`
}

type todoV3 struct {
	todoV2
	Due string `json:"due"`
}

// TestChainV1ToV3 applies a two-step chain across three schema versions.
func TestChainV1ToV3(t *testing.T) {
	v1ToV2 := Upcaster{
		EventName: "Initialized", FromVersion: 1, ToVersion: 2,
		Transform: func(payload []byte) ([]byte, error) {
			var v1 todoV1
			if err := json.Unmarshal(payload, &v1); err != nil {
				return nil, err
			}
			return json.Marshal(todoV2{todoV1: v1, Priority: 0})
		},
	}
	v2ToV3 := Upcaster{
		EventName: "Initialized", FromVersion: 2, ToVersion: 3,
		Transform: func(payload []byte) ([]byte, error) {
			var v2 todoV2
			if err := json.Unmarshal(payload, &v2); err != nil {
				return nil, err
			}
			return json.Marshal(todoV3{todoV2: v2, Due: ""})
		},
	}
	chain := NewChain(v1ToV2, v2ToV3)

	stored := entity.Record{
		EventName: "Initialized",
		Version:   1,
		Payload:   mustJSON(t, todoV1{ID: "t1", Task: "buy"}),
		Sequence:  1,
	}

	out, err := chain.Apply([]entity.Record{stored})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(3), out[0].Version)

	var final todoV3
	require.NoError(t, json.Unmarshal(out[0].Payload, &final))
	assert.Equal(t, "t1", final.ID)
	assert.Equal(t, "buy", final.Task)
	assert.Equal(t, 0, final.Priority)
	assert.Equal(t, "", final.Due)
}

func TestChainEmptyIsFastPath(t *testing.T) {
	chain := NewChain()
	assert.True(t, chain.Empty())

	in := []entity.Record{{EventName: "X", Version: 1}}
	out, err := chain.Apply(in)
	require.NoError(t, err)
	assert.Same(t, &in[0], &out[0]) // no allocation: the input slice is returned as is
	assert.Equal(t, in, out)
}

func TestChainMissingUpcasterIsSchemaGap(t *testing.T) {
	// target version is 3 (the highest ToVersion registered for "X") but no
	// 1->2 step is registered, so a record stored at version 1 cannot reach it.
	chain := NewChain(Upcaster{EventName: "X", FromVersion: 2, ToVersion: 3, Transform: identity})

	_, err := chain.Apply([]entity.Record{{EventName: "X", Version: 1}})
	require.Error(t, err)
	assert.True(t, cqerrs.Is(err, cqerrs.KindSchemaGap))
}

func identity(p []byte) ([]byte, error) { return p, nil }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// TestChainClosure is a property test covering upcaster closure: for every
// stored (name, v) with a complete chain to the max version, Apply always
// reaches that max version without error.
func TestChainClosure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxV := rapid.IntRange(1, 6).Draw(t, "maxVersion")
		var ups []Upcaster
		for v := 1; v < maxV; v++ {
			ups = append(ups, Upcaster{
				EventName: "E", FromVersion: uint32(v), ToVersion: uint32(v + 1),
				Transform: identity,
			})
		}
		chain := NewChain(ups...)
		startV := rapid.IntRange(1, maxV).Draw(t, "startVersion")

		out, err := chain.Apply([]entity.Record{{EventName: "E", Version: uint32(startV)}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out[0].Version != uint32(maxV) {
			t.Fatalf("expected version %d, got %d", maxV, out[0].Version)
		}
	})
}
