package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/domain"
)

func TestEnrich_UpdateDebugProfileName(t *testing.T) {
	raw := "Apr 16 23:37:09 i-dskfj-j update.debug:  16/Apr/2018:23:37:09.674 23502/#upd:qa-jgon_0918-aws2:3fab             : ERROR    w.update: Failed to update profile\n" +
		"Apr 16 23:37:09 i-dskfj-j update.debug:  Traceback (most recent call last):"
	tb := domain.Traceback{ProgramName: "update.debug", RawFullText: raw}

	got := Enrich(tb)
	require.NotNil(t, got.ProfileName)
	assert.Equal(t, "qa-jgon_0918-aws2", *got.ProfileName)
	assert.Nil(t, got.Username)
}

func TestEnrich_UpdateDebugWithAtSignBecomesUsername(t *testing.T) {
	raw := "x update.debug:  y 1/#upd:someone@example.com:3fab : ERROR bad\n" +
		"x update.debug:  Traceback (most recent call last):"
	tb := domain.Traceback{ProgramName: "update.debug", RawFullText: raw}

	got := Enrich(tb)
	require.NotNil(t, got.Username)
	assert.Equal(t, "someone@example.com", *got.Username)
	assert.Nil(t, got.ProfileName)
}

func TestEnrich_ActivityWorkerProfileName(t *testing.T) {
	raw := "Mar 05 i-ksdfj-e swf.quickstart.activity-worker:  05/Mar/2018 7339/#prod!310595!AW!quick_start:beekeeping_cc_28910: ERROR  caught exception\n" +
		"Mar 05 i-ksdfj-e swf.quickstart.activity-worker:  Traceback (most recent call last):"
	tb := domain.Traceback{ProgramName: "swf.quickstart.activity-worker", RawFullText: raw}

	got := Enrich(tb)
	require.NotNil(t, got.ProfileName)
	assert.Equal(t, "beekeeping_cc_28910", *got.ProfileName)
}

func TestEnrich_EngineServerDebugProfileAndUsername(t *testing.T) {
	raw := "Mar 20 i-kjsdf-g aws2.engine.server.debug:  20/Mar/2018:18:20:50.834 15165/WS#ttt-solutions-ttt-res-admin@ttt-solutions.com: DEBUG w.services: took 26645 milliseconds\n" +
		"Mar 20 i-kjsdf-g aws2.engine.server.debug:  20/Mar/2018:18:20:50.834 15165/MainThread : ERROR w.services: Unexpected error\n" +
		"Mar 20 i-kjsdf-g aws2.engine.server.debug:  Traceback (most recent call last):"
	tb := domain.Traceback{ProgramName: "aws2.engine.server.debug", RawFullText: raw}

	got := Enrich(tb)
	require.NotNil(t, got.ProfileName)
	require.NotNil(t, got.Username)
	assert.Equal(t, "ttt-solutions-ttt-res", *got.ProfileName)
	assert.Equal(t, "admin@ttt-solutions.com", *got.Username)
}

func TestEnrich_NeverClobbersExistingNonNullValue(t *testing.T) {
	raw := "Apr 16 i-dskfj-j update.debug:  16/Apr 23502/#upd:other-profile:3fab : ERROR fail\n" +
		"Apr 16 i-dskfj-j update.debug:  Traceback (most recent call last):"
	existing := "kept"
	tb := domain.Traceback{ProgramName: "update.debug", RawFullText: raw, ProfileName: &existing}

	got := Enrich(tb)
	assert.Equal(t, "kept", *got.ProfileName)
}

func TestEnrich_NoErrorLineLeavesUnchanged(t *testing.T) {
	raw := "x manager.debug: Traceback (most recent call last):"
	tb := domain.Traceback{ProgramName: "manager.debug", RawFullText: raw}
	got := Enrich(tb)
	assert.Nil(t, got.ProfileName)
	assert.Nil(t, got.Username)
}
