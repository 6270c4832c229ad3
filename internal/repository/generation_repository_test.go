package repository

import (
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"querytube-go/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.IndexGeneration{}))
	return db
}

func TestGenerationLifecycle(t *testing.T) {
	repo := NewGenerationRepository(newTestDB(t))

	first := &model.IndexGeneration{TaskID: "t1", IndexName: "youtube_videos_20240101000000", Model: "m"}
	require.NoError(t, repo.Create(first))
	assert.Equal(t, model.GenerationBuilding, first.Status)
	require.NoError(t, repo.MarkActive("t1", 10, 1, 384))

	second := &model.IndexGeneration{TaskID: "t2", IndexName: "youtube_videos_20240102000000", Model: "m"}
	require.NoError(t, repo.Create(second))
	require.NoError(t, repo.MarkActive("t2", 12, 0, 384))

	old, err := repo.FindByTaskID("t1")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationRetired, old.Status)

	active, err := repo.Active()
	require.NoError(t, err)
	assert.Equal(t, "t2", active.TaskID)
	assert.Equal(t, 12, active.DocCount)
	assert.NotNil(t, active.FinishedAt)

	gens, err := repo.List(10)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, "t2", gens[0].TaskID)
}

func TestGenerationMarkFailed(t *testing.T) {
	repo := NewGenerationRepository(newTestDB(t))
	require.NoError(t, repo.Create(&model.IndexGeneration{TaskID: "t1", IndexName: "x"}))
	require.NoError(t, repo.MarkFailed("t1", "embedding service unreachable"))

	gen, err := repo.FindByTaskID("t1")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationFailed, gen.Status)
	assert.Equal(t, "embedding service unreachable", gen.Error)

	_, err = repo.Active()
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestMarkActiveUnknownTask(t *testing.T) {
	repo := NewGenerationRepository(newTestDB(t))
	err := repo.MarkActive("missing", 1, 0, 3)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
