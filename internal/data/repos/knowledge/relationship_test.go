package knowledge

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/data/repos/testutil"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
)

func TestRelationshipRepoRejectsSelfLoopAndDuplicates(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewRelationshipRepo(db, testutil.Logger(t))
	a, b := uuid.New(), uuid.New()

	_, _, err := repo.Create(dbc, &knowledge.Relationship{FromFindingID: a, ToFindingID: a, Type: knowledge.RelSupports})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = repo.Create(dbc, &knowledge.Relationship{FromFindingID: a, ToFindingID: b, Type: "LIKES"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	first, created, err := repo.Create(dbc, &knowledge.Relationship{FromFindingID: a, ToFindingID: b, Type: knowledge.RelSupports, Strength: 0.7})
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := repo.Create(dbc, &knowledge.Relationship{FromFindingID: a, ToFindingID: b, Type: knowledge.RelSupports, Strength: 0.1})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	edges, err := repo.ListForFinding(dbc, b)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestRelationshipRepoSupersedesNeverCycles(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewRelationshipRepo(db, testutil.Logger(t))
	rng := rand.New(rand.NewSource(7))

	nodes := make([]uuid.UUID, 12)
	for i := range nodes {
		nodes[i] = uuid.New()
	}
	for i := 0; i < 200; i++ {
		from := nodes[rng.Intn(len(nodes))]
		to := nodes[rng.Intn(len(nodes))]
		if from == to {
			continue
		}
		_, _, err := repo.Create(dbc, &knowledge.Relationship{FromFindingID: from, ToFindingID: to, Type: knowledge.RelSupersedes})
		if err != nil {
			require.ErrorIs(t, err, apperr.ErrConflict)
		}
	}

	// No node may reach itself through a non-empty SUPERSEDES path.
	for _, n := range nodes {
		edges, err := repo.ListForFinding(dbc, n, knowledge.RelSupersedes)
		require.NoError(t, err)
		for _, e := range edges {
			if e.FromFindingID != n {
				continue
			}
			back, err := repo.SupersedesReachable(dbc, e.ToFindingID, n)
			require.NoError(t, err)
			assert.False(t, back, "cycle through %s", n)
		}
	}
}

func TestRelationshipRepoLongChain(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewRelationshipRepo(db, testutil.Logger(t))

	chain := make([]uuid.UUID, 30)
	for i := range chain {
		chain[i] = uuid.New()
	}
	for i := 1; i < len(chain); i++ {
		_, _, err := repo.Create(dbc, &knowledge.Relationship{FromFindingID: chain[i], ToFindingID: chain[i-1], Type: knowledge.RelSupersedes})
		require.NoError(t, err)
	}
	_, _, err := repo.Create(dbc, &knowledge.Relationship{FromFindingID: chain[0], ToFindingID: chain[len(chain)-1], Type: knowledge.RelSupersedes})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// Other edge types are not constrained by the chain.
	_, _, err = repo.Create(dbc, &knowledge.Relationship{FromFindingID: chain[0], ToFindingID: chain[len(chain)-1], Type: knowledge.RelContradicts})
	assert.NoError(t, err)
}
