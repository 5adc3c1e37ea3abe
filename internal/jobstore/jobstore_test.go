package jobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeJSON(t *testing.T) {
	a := `[{"targetControlKey":"x","rerankScore":0.5}]`
	b := `[{"targetControlKey": "x", "rerankScore": 0.5}]`
	assert.Equal(t, normalizeJSON(a), normalizeJSON(b))
}

func TestRowToJob_NoResult(t *testing.T) {
	r := row{JobID: "abc", Status: "PENDING"}
	job, err := r.toJob()
	assert.NoError(t, err)
	assert.Nil(t, job.Result)
}

func TestRowToJob_CompletedResult(t *testing.T) {
	r := row{
		JobID:          "abc",
		Status:         "COMPLETED",
		ResultMappings: `[{"targetControlKey":"AWS.EC2#1.0#AC-1","rerankScore":0.9}]`,
	}
	job, err := r.toJob()
	assert.NoError(t, err)
	if assert.NotNil(t, job.Result) {
		assert.Len(t, job.Result.Mappings, 1)
		assert.Equal(t, "AWS.EC2#1.0#AC-1", job.Result.Mappings[0].TargetControlKey)
	}
}

func TestRowToJob_FailedResult(t *testing.T) {
	r := row{JobID: "abc", Status: "FAILED", ResultErrorMessage: "ScienceUnavailable"}
	job, err := r.toJob()
	assert.NoError(t, err)
	if assert.NotNil(t, job.Result) {
		assert.Equal(t, "ScienceUnavailable", job.Result.ErrorMessage)
		assert.Empty(t, job.Result.Mappings)
	}
}
