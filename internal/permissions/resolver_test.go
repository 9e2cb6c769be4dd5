package permissions

import (
	"context"
	"testing"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore holds one guild's worth of state in memory.
type fakeStore struct {
	guild   models.Guild
	members map[int64]models.Member
	roles   []models.Role
}

func (store *fakeStore) Guild(ctx context.Context, guildID int64) (models.Guild, error) {
	if guildID != store.guild.ID {
		return models.Guild{}, apperrors.ErrNotFound
	}
	return store.guild, nil
}

func (store *fakeStore) Member(ctx context.Context, guildID int64, userID int64) (models.Member, error) {
	member, exists := store.members[userID]
	if guildID != store.guild.ID || !exists {
		return models.Member{}, apperrors.ErrNotFound
	}
	return member, nil
}

func (store *fakeStore) GuildRoles(ctx context.Context, guildID int64) ([]models.Role, error) {
	if guildID != store.guild.ID {
		return nil, apperrors.ErrNotFound
	}
	return store.roles, nil
}

const (
	guildID = int64(200)
	ownerID = int64(100)
	modID   = int64(101)
	plebID  = int64(102)
	adminID = int64(103)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		guild: models.Guild{ID: guildID, OwnerID: ownerID, Name: "test"},
		members: map[int64]models.Member{
			ownerID: {GuildID: guildID, UserID: ownerID},
			modID:   {GuildID: guildID, UserID: modID, RoleIDs: []int64{301}},
			plebID:  {GuildID: guildID, UserID: plebID},
			adminID: {GuildID: guildID, UserID: adminID, RoleIDs: []int64{302}},
		},
		roles: []models.Role{
			{ID: guildID, GuildID: guildID, Name: "everyone", Position: 0, Permissions: Default, IsEveryone: true},
			{ID: 301, GuildID: guildID, Name: "mod", Position: 5, Permissions: KickMembers | ManageMessages},
			{ID: 302, GuildID: guildID, Name: "admin", Position: 9, Permissions: Administrator},
		},
	}
}

func TestResolveOwnerBypass(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	resolved, err := resolver.Resolve(context.Background(), ownerID, guildID)
	require.NoError(t, err)
	assert.Equal(t, All, resolved)
}

func TestResolveAdministratorBypass(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	resolved, err := resolver.Resolve(context.Background(), adminID, guildID)
	require.NoError(t, err)
	assert.Equal(t, All, resolved)

	// the administrator bypass makes every require succeed
	for i := range names {
		assert.NoError(t, resolver.Require(context.Background(), adminID, guildID, names[i].flag))
	}
}

func TestResolveCombinesEveryoneAndRoles(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	resolved, err := resolver.Resolve(context.Background(), modID, guildID)
	require.NoError(t, err)

	// everyone-role bits are always included
	assert.True(t, Has(resolved, ViewChannel))
	assert.True(t, Has(resolved, SendMessages))
	// assigned role bits on top
	assert.True(t, Has(resolved, KickMembers))
	assert.True(t, Has(resolved, ManageMessages))
	// nothing else
	assert.False(t, Has(resolved, ManageGuild))
}

func TestResolveIdempotent(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	first, err := resolver.Resolve(context.Background(), plebID, guildID)
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), plebID, guildID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolveChannelMatchesResolve(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	resolved, err := resolver.Resolve(context.Background(), modID, guildID)
	require.NoError(t, err)
	resolvedChannel, err := resolver.ResolveChannel(context.Background(), modID, guildID, 400)
	require.NoError(t, err)

	assert.Equal(t, resolved, resolvedChannel)
}

func TestResolveNonMemberIsNotFound(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	_, err := resolver.Resolve(context.Background(), 999, guildID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// a non-member asking for permission gets 404, not 403
	err = resolver.Require(context.Background(), 999, guildID, ViewChannel)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveUnknownGuildIsNotFound(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	_, err := resolver.Resolve(context.Background(), plebID, 999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRequireMissingPermissions(t *testing.T) {
	resolver := NewResolver(newFakeStore())

	err := resolver.Require(context.Background(), plebID, guildID, ManageGuild)
	assert.ErrorIs(t, err, apperrors.ErrMissingPermissions)

	err = resolver.Require(context.Background(), plebID, guildID, ViewChannel)
	assert.NoError(t, err)
}

func TestCanManageMember(t *testing.T) {
	resolver := NewResolver(newFakeStore())
	ctx := context.Background()

	// owner manages everyone
	can, err := resolver.CanManageMember(ctx, guildID, ownerID, modID)
	require.NoError(t, err)
	assert.True(t, can)

	// nobody manages the owner
	can, err = resolver.CanManageMember(ctx, guildID, adminID, ownerID)
	require.NoError(t, err)
	assert.False(t, can)

	// higher position wins
	can, err = resolver.CanManageMember(ctx, guildID, modID, plebID)
	require.NoError(t, err)
	assert.True(t, can)

	// ties deny
	can, err = resolver.CanManageMember(ctx, guildID, plebID, plebID)
	require.NoError(t, err)
	assert.False(t, can)

	// lower position denies
	can, err = resolver.CanManageMember(ctx, guildID, modID, adminID)
	require.NoError(t, err)
	assert.False(t, can)
}

func TestCanAssignRole(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	modRole := store.roles[1]
	adminRole := store.roles[2]
	everyoneRole := store.roles[0]

	// owner can assign anything except the everyone-role
	can, err := resolver.CanAssignRole(ctx, ownerID, modRole)
	require.NoError(t, err)
	assert.True(t, can)

	can, err = resolver.CanAssignRole(ctx, ownerID, everyoneRole)
	require.NoError(t, err)
	assert.False(t, can)

	// the mod lacks MANAGE_ROLES entirely
	can, err = resolver.CanAssignRole(ctx, modID, modRole)
	require.NoError(t, err)
	assert.False(t, can)

	// the admin resolves to All but their highest position (9) must
	// still be strictly above the role's
	can, err = resolver.CanAssignRole(ctx, adminID, modRole)
	require.NoError(t, err)
	assert.True(t, can)

	can, err = resolver.CanAssignRole(ctx, adminID, adminRole)
	require.NoError(t, err)
	assert.False(t, can)
}
