package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineStatus_Rank_Monotonic(t *testing.T) {
	sequence := []PipelineStatus{
		StatusNotStarted, StatusExtracting, StatusTriaging, StatusDeduplicating,
		StatusEmbedding, StatusClustering, StatusReClustering, StatusNaming,
		StatusReadyForValidation, StatusCompleted,
	}

	for i := 1; i < len(sequence); i++ {
		assert.Greater(t, sequence[i].Rank(), sequence[i-1].Rank(),
			"%s should rank above %s", sequence[i], sequence[i-1])
	}

	// Failed ranks above every forward status so a failed run never regresses.
	for _, status := range sequence {
		assert.Greater(t, StatusFailed.Rank(), status.Rank())
	}
}

func TestPipelineStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusReadyForValidation.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusTriaging.IsTerminal())
	assert.False(t, StatusNotStarted.IsTerminal())
}

func TestPipelineStatus_InProgress(t *testing.T) {
	assert.True(t, StatusTriaging.InProgress())
	assert.True(t, StatusReClustering.InProgress())
	assert.False(t, StatusNotStarted.InProgress())
	assert.False(t, StatusFailed.InProgress())
	assert.False(t, StatusExtracting.InProgress())
}

func TestParseStage(t *testing.T) {
	stage, err := ParseStage("embed")
	require.NoError(t, err)
	assert.Equal(t, StageEmbed, stage)

	_, err = ParseStage("reticulate")
	assert.Error(t, err)
}

func TestStage_Order(t *testing.T) {
	stages := []Stage{StageTriage, StageDedup, StageEmbed, StageCluster, StageName}
	for i, stage := range stages {
		assert.Equal(t, i, stage.Order())
	}
}

func TestDocument_Triaged(t *testing.T) {
	doc := &Document{ID: "d1", SessionID: "s1"}
	assert.False(t, doc.Triaged())

	status := TriageFirmDrafted
	doc.TriageStatus = &status
	assert.True(t, doc.Triaged())
}

func TestDocument_MetadataCompleteness(t *testing.T) {
	assert.Equal(t, 0, (&Document{}).MetadataCompleteness())
	assert.Equal(t, 1, (&Document{Subject: "re: lease"}).MetadataCompleteness())
	assert.Equal(t, 3, (&Document{Subject: "re: lease", Sender: "a@firm.com", Source: "box1/msg.eml"}).MetadataCompleteness())
}

func TestDocument_Validate(t *testing.T) {
	doc := &Document{ID: "d1", SessionID: "s1"}
	require.NoError(t, doc.Validate())

	bad := TriageStatus("bogus")
	doc.TriageStatus = &bad
	assert.Error(t, doc.Validate())

	doc.TriageStatus = nil
	doc.TriageConfidence = 1.5
	assert.Error(t, doc.Validate())
}

func TestSession_Validate(t *testing.T) {
	session := &Session{ID: "s1", Status: StatusNotStarted}
	require.NoError(t, session.Validate())

	session.Status = "bogus"
	assert.Error(t, session.Validate())

	session.Status = StatusNotStarted
	session.TotalDocuments = -1
	assert.Error(t, session.Validate())
}
