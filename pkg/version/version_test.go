package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull_CarriesRelease(t *testing.T) {
	assert.True(t, strings.HasPrefix(Full(), "soorma/"+Release))
}

func TestCommit_ShortRevision(t *testing.T) {
	c := strings.TrimSuffix(Commit(), "+dirty")
	assert.LessOrEqual(t, len(c), 8)
}
