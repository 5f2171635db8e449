package fingerprint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fingerprints.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func unitVector(t *testing.T, seed float32) []float32 {
	t.Helper()
	v := make([]float32, EmbeddingDim)
	v[0] = seed
	v[1] = 1
	normalizeInPlace(v)
	return v
}

func TestCreateAndGetDog(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateDog("Fido", "backyard regular", 5)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	dog, err := store.GetDog(id)
	require.NoError(t, err)
	require.Equal(t, "Fido", dog.Name)
	require.Equal(t, "backyard regular", dog.Notes)
	require.False(t, dog.Confirmed)
	require.Equal(t, 5, dog.MinSamplesForAutoTag)
	require.False(t, dog.CanAutoTag())
}

func TestGetDogNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetDog("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListDogsOrderedByName(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateDog("Zeus", "", 5)
	require.NoError(t, err)
	_, err = store.CreateDog("Apollo", "", 5)
	require.NoError(t, err)

	dogs, err := store.ListDogs()
	require.NoError(t, err)
	require.Len(t, dogs, 2)
	require.Equal(t, "Apollo", dogs[0].Name)
	require.Equal(t, "Zeus", dogs[1].Name)
}

func TestUpdateDog(t *testing.T) {
	store := newTestStore(t)
	id, err := store.CreateDog("Fido", "old notes", 5)
	require.NoError(t, err)

	require.NoError(t, store.UpdateDog(id, "Fido Jr", "new notes"))

	dog, err := store.GetDog(id)
	require.NoError(t, err)
	require.Equal(t, "Fido Jr", dog.Name)
	require.Equal(t, "new notes", dog.Notes)
}

func TestConfirmAndUnconfirmDog(t *testing.T) {
	store := newTestStore(t)
	id, err := store.CreateDog("Fido", "", 1)
	require.NoError(t, err)

	require.NoError(t, store.ConfirmDog(id))
	dog, err := store.GetDog(id)
	require.NoError(t, err)
	require.True(t, dog.Confirmed)
	require.NotNil(t, dog.ConfirmedAt)

	require.NoError(t, store.UnconfirmDog(id))
	dog, err = store.GetDog(id)
	require.NoError(t, err)
	require.False(t, dog.Confirmed)
	require.Nil(t, dog.ConfirmedAt)
}

func TestDeleteDogDetachesFingerprints(t *testing.T) {
	store := newTestStore(t)
	dogID, err := store.CreateDog("Fido", "", 1)
	require.NoError(t, err)

	fpID, err := store.SaveFingerprint(BarkFingerprint{
		Timestamp:            time.Now(),
		Embedding:            unitVector(t, 1),
		DogID:                &dogID,
		DetectionProbability: 0.9,
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteDog(dogID))

	fp, err := store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.Nil(t, fp.DogID)
}

func TestSaveAndGetFingerprint(t *testing.T) {
	store := newTestStore(t)
	ts := time.Now()
	id, err := store.SaveFingerprint(BarkFingerprint{
		Timestamp:            ts,
		Embedding:            unitVector(t, 1),
		DetectionProbability: 0.87,
		DurationMs:           floatPtr(420.5),
	})
	require.NoError(t, err)

	fp, err := store.GetFingerprint(id)
	require.NoError(t, err)
	require.InDelta(t, 0.87, fp.DetectionProbability, 1e-9)
	require.NotNil(t, fp.DurationMs)
	require.InDelta(t, 420.5, *fp.DurationMs, 1e-9)
	require.True(t, fp.Untagged())
	require.Len(t, fp.Embedding, EmbeddingDim)
}

func floatPtr(v float64) *float64 { return &v }

func TestTagUntagRejectFingerprint(t *testing.T) {
	store := newTestStore(t)
	dogID, err := store.CreateDog("Fido", "", 1)
	require.NoError(t, err)
	fpID, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DetectionProbability: 0.9})
	require.NoError(t, err)

	require.NoError(t, store.TagFingerprint(fpID, dogID, 0.92))
	fp, err := store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.Equal(t, dogID, *fp.DogID)
	require.False(t, fp.Untagged())

	require.NoError(t, store.UntagFingerprint(fpID))
	fp, err = store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.Nil(t, fp.DogID)

	require.NoError(t, store.RejectFingerprint(fpID, "wind noise"))
	fp, err = store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.Equal(t, "wind noise", *fp.RejectionReason)
	require.False(t, fp.Untagged())

	require.NoError(t, store.UnrejectFingerprint(fpID))
	fp, err = store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.Nil(t, fp.RejectionReason)
	require.True(t, fp.Untagged())
}

func TestConfirmUnconfirmFingerprint(t *testing.T) {
	store := newTestStore(t)
	fpID, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DetectionProbability: 0.9})
	require.NoError(t, err)

	require.NoError(t, store.ConfirmFingerprint(fpID))
	fp, err := store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.True(t, *fp.Confirmed)

	require.NoError(t, store.UnconfirmFingerprint(fpID))
	fp, err = store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.False(t, *fp.Confirmed)
}

func TestGetUntaggedFingerprints(t *testing.T) {
	store := newTestStore(t)
	dogID, err := store.CreateDog("Fido", "", 1)
	require.NoError(t, err)

	_, err = store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DogID: &dogID, DetectionProbability: 0.9})
	require.NoError(t, err)
	untaggedID, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DetectionProbability: 0.9})
	require.NoError(t, err)

	results, err := store.GetUntaggedFingerprints(10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, untaggedID, results[0].ID)
}

func TestFindMatchesRanksByCosineSimilarityAboveThreshold(t *testing.T) {
	store := newTestStore(t)

	closeID, err := store.CreateDog("Close", "", 1)
	require.NoError(t, err)
	require.NoError(t, store.ConfirmDog(closeID))
	require.NoError(t, store.UpdateDogStats(closeID, unitVector(t, 1), nil, nil))

	farID, err := store.CreateDog("Far", "", 1)
	require.NoError(t, err)
	require.NoError(t, store.ConfirmDog(farID))
	orthogonal := make([]float32, EmbeddingDim)
	orthogonal[2] = 1
	require.NoError(t, store.UpdateDogStats(farID, orthogonal, nil, nil))

	query := unitVector(t, 1)
	matches, err := store.FindMatches(query, 0.75, 3, true)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, closeID, matches[0].DogID)
}

func TestFindMatchesExcludesNonAutoTaggableWhenRequested(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateDog("Unconfirmed", "", 1)
	require.NoError(t, err)
	require.NoError(t, store.UpdateDogStats(id, unitVector(t, 1), nil, nil))

	matches, err := store.FindMatches(unitVector(t, 1), 0.5, 3, true)
	require.NoError(t, err)
	require.Empty(t, matches)

	matches, err = store.FindMatches(unitVector(t, 1), 0.5, 3, false)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestUpdateDogStatsIncrementallyRecentersEmbedding(t *testing.T) {
	store := newTestStore(t)
	id, err := store.CreateDog("Fido", "", 1)
	require.NoError(t, err)

	first := unitVector(t, 1)
	require.NoError(t, store.UpdateDogStats(id, first, floatPtr(300), floatPtr(500)))

	dog, err := store.GetDog(id)
	require.NoError(t, err)
	require.Equal(t, 1, dog.SampleCount)
	require.InDelta(t, 300, *dog.AvgDurationMs, 1e-6)

	second := make([]float32, EmbeddingDim)
	second[1] = 1
	require.NoError(t, store.UpdateDogStats(id, second, floatPtr(400), floatPtr(600)))

	dog, err = store.GetDog(id)
	require.NoError(t, err)
	require.Equal(t, 2, dog.SampleCount)
	require.InDelta(t, 350, *dog.AvgDurationMs, 1e-6)
	require.InDelta(t, 550, *dog.AvgPitchHz, 1e-6)

	var normSq float64
	for _, f := range dog.Embedding {
		normSq += float64(f) * float64(f)
	}
	require.InDelta(t, 1.0, normSq, 1e-6)
}

func TestMergeDogsCombinesFingerprintsAndEmbedding(t *testing.T) {
	store := newTestStore(t)

	sourceID, err := store.CreateDog("Source", "", 1)
	require.NoError(t, err)
	require.NoError(t, store.UpdateDogStats(sourceID, unitVector(t, 1), nil, nil))

	targetID, err := store.CreateDog("Target", "", 1)
	require.NoError(t, err)
	require.NoError(t, store.UpdateDogStats(targetID, unitVector(t, 1), nil, nil))

	fpID, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DogID: &sourceID, DetectionProbability: 0.9})
	require.NoError(t, err)

	require.NoError(t, store.MergeDogs(sourceID, targetID))

	_, err = store.GetDog(sourceID)
	require.ErrorIs(t, err, ErrNotFound)

	target, err := store.GetDog(targetID)
	require.NoError(t, err)
	require.Equal(t, 2, target.SampleCount)

	fp, err := store.GetFingerprint(fpID)
	require.NoError(t, err)
	require.Equal(t, targetID, *fp.DogID)
}

func TestListFingerprintsPaginatesAndFilters(t *testing.T) {
	store := newTestStore(t)
	dogID, err := store.CreateDog("Fido", "", 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DogID: &dogID, DetectionProbability: 0.9})
		require.NoError(t, err)
	}
	_, err = store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DetectionProbability: 0.9})
	require.NoError(t, err)

	rows, total, err := store.ListFingerprints(2, 0, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 4, total)

	rows, total, err = store.ListFingerprints(10, 0, ListFilter{DogID: &dogID})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 3, total)

	rows, total, err = store.ListFingerprints(10, 0, ListFilter{Untagged: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, total)
}

func TestDeleteAndPurgeFingerprints(t *testing.T) {
	store := newTestStore(t)
	oldID, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now().Add(-48 * time.Hour), DetectionProbability: 0.9})
	require.NoError(t, err)
	recentID, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DetectionProbability: 0.9})
	require.NoError(t, err)

	n, err := store.PurgeFingerprints(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = store.GetFingerprint(oldID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetFingerprint(recentID)
	require.NoError(t, err)

	require.NoError(t, store.DeleteFingerprint(recentID))
	_, err = store.GetFingerprint(recentID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatsCountsDogsAndFingerprints(t *testing.T) {
	store := newTestStore(t)
	dogID, err := store.CreateDog("Fido", "", 1)
	require.NoError(t, err)
	require.NoError(t, store.ConfirmDog(dogID))

	_, err = store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DetectionProbability: 0.9})
	require.NoError(t, err)
	rejectedID, err := store.SaveFingerprint(BarkFingerprint{Timestamp: time.Now(), DetectionProbability: 0.9})
	require.NoError(t, err)
	require.NoError(t, store.RejectFingerprint(rejectedID, "noise"))

	stats, err := store.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalDogs)
	require.Equal(t, 1, stats.ConfirmedDogs)
	require.Equal(t, 2, stats.TotalFingerprints)
	require.Equal(t, 1, stats.UntaggedCount)
	require.Equal(t, 1, stats.RejectedCount)
}

func TestTierBoundaries(t *testing.T) {
	require.Equal(t, ConfidenceHigh, Tier(0.95))
	require.Equal(t, ConfidenceMedium, Tier(0.80))
	require.Equal(t, ConfidenceLow, Tier(0.70))
	require.Equal(t, ConfidenceNone, Tier(0.5))
}
