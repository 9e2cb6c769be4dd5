package permissions

import (
	"strconv"
)

// Permission flags, one bit each.
const (
	ViewChannel    uint64 = 1 << 0
	SendMessages   uint64 = 1 << 1
	ManageMessages uint64 = 1 << 2
	ManageChannels uint64 = 1 << 3
	ManageRoles    uint64 = 1 << 4
	ManageGuild    uint64 = 1 << 5
	KickMembers    uint64 = 1 << 6
	BanMembers     uint64 = 1 << 7
	Administrator  uint64 = 1 << 8
	AttachFiles    uint64 = 1 << 9
	AddReactions   uint64 = 1 << 10
)

// Default is what the everyone-role of a fresh guild grants.
const Default = ViewChannel | SendMessages | AddReactions | AttachFiles

// All is the owner/administrator bypass value.
const All = ^uint64(0)

func Has(set uint64, flag uint64) bool {
	return set&flag == flag
}

func HasAny(set uint64, flags uint64) bool {
	return set&flags != 0
}

// Combine ORs role permission sets together.
func Combine(sets ...uint64) uint64 {
	var combined uint64
	for _, set := range sets {
		combined |= set
	}
	return combined
}

// Format renders a permission set in its wire form, a decimal string,
// same as snowflakes.
func Format(set uint64) string {
	return strconv.FormatUint(set, 10)
}

func Parse(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

var names = []struct {
	flag uint64
	name string
}{
	{ViewChannel, "VIEW_CHANNEL"},
	{SendMessages, "SEND_MESSAGES"},
	{ManageMessages, "MANAGE_MESSAGES"},
	{ManageChannels, "MANAGE_CHANNELS"},
	{ManageRoles, "MANAGE_ROLES"},
	{ManageGuild, "MANAGE_GUILD"},
	{KickMembers, "KICK_MEMBERS"},
	{BanMembers, "BAN_MEMBERS"},
	{Administrator, "ADMINISTRATOR"},
	{AttachFiles, "ATTACH_FILES"},
	{AddReactions, "ADD_REACTIONS"},
}

// List returns the names of the flags present in the set, for logging.
func List(set uint64) []string {
	var list []string
	for i := range names {
		if Has(set, names[i].flag) {
			list = append(list, names[i].name)
		}
	}
	return list
}
