package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagBits(t *testing.T) {
	assert.Equal(t, uint64(1)<<0, ViewChannel)
	assert.Equal(t, uint64(1)<<1, SendMessages)
	assert.Equal(t, uint64(1)<<2, ManageMessages)
	assert.Equal(t, uint64(1)<<3, ManageChannels)
	assert.Equal(t, uint64(1)<<4, ManageRoles)
	assert.Equal(t, uint64(1)<<5, ManageGuild)
	assert.Equal(t, uint64(1)<<6, KickMembers)
	assert.Equal(t, uint64(1)<<7, BanMembers)
	assert.Equal(t, uint64(1)<<8, Administrator)
	assert.Equal(t, uint64(1)<<9, AttachFiles)
	assert.Equal(t, uint64(1)<<10, AddReactions)
}

func TestDefaultPermissions(t *testing.T) {
	assert.True(t, Has(Default, ViewChannel))
	assert.True(t, Has(Default, SendMessages))
	assert.True(t, Has(Default, AddReactions))
	assert.True(t, Has(Default, AttachFiles))
	assert.False(t, Has(Default, ManageGuild))
	assert.False(t, Has(Default, Administrator))
}

func TestHas(t *testing.T) {
	set := ViewChannel | SendMessages

	assert.True(t, Has(set, ViewChannel))
	assert.True(t, Has(set, ViewChannel|SendMessages))
	assert.False(t, Has(set, ManageMessages))
	assert.False(t, Has(set, ViewChannel|ManageMessages))
}

func TestHasAny(t *testing.T) {
	set := ViewChannel | SendMessages

	assert.True(t, HasAny(set, ViewChannel|ManageGuild))
	assert.False(t, HasAny(set, ManageGuild|BanMembers))
}

func TestAllCoversEverything(t *testing.T) {
	for i := range names {
		assert.True(t, Has(All, names[i].flag), "All should contain %s", names[i].name)
	}
}

func TestCombine(t *testing.T) {
	combined := Combine(ViewChannel, SendMessages|ManageMessages)

	assert.True(t, Has(combined, ViewChannel))
	assert.True(t, Has(combined, SendMessages))
	assert.True(t, Has(combined, ManageMessages))
	assert.False(t, Has(combined, ManageGuild))
}

func TestFormatParse(t *testing.T) {
	set := ViewChannel | Administrator

	parsed, err := Parse(Format(set))
	assert.NoError(t, err)
	assert.Equal(t, set, parsed)
}

func TestList(t *testing.T) {
	list := List(ViewChannel | Administrator)
	assert.Equal(t, []string{"VIEW_CHANNEL", "ADMINISTRATOR"}, list)
}
