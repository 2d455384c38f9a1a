package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomDirectory_JoinAndLeave(t *testing.T) {
	d := newRoomDirectory()
	now := time.Now()

	d.create("@#ABCDE1", "Study Group", "Cara", now)

	r, ok := d.join("@#ABCDE1", "cara-conn")
	require.True(t, ok)
	_, ok = d.join("@#ABCDE1", "dee-conn")
	require.True(t, ok)

	assert.Equal(t, 2, r.memberCount())
	assert.ElementsMatch(t, []string{"dee-conn"}, r.membersExcept("cara-conn"))

	assert.False(t, d.leave("@#ABCDE1", "cara-conn"), "room survives while members remain")
	assert.True(t, d.leave("@#ABCDE1", "dee-conn"), "room is deleted when the last member leaves")

	_, ok = d.lookup("@#ABCDE1")
	assert.False(t, ok)
}

func TestRoomDirectory_JoinUnknownCode(t *testing.T) {
	d := newRoomDirectory()

	_, ok := d.join("&*NOSUCH", "conn")
	assert.False(t, ok)
	assert.False(t, d.leave("&*NOSUCH", "conn"))
}
