package permissions

import (
	"context"
	"fmt"
	"slices"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/models"
)

// Store is the slice of the relational store the resolver reads.
type Store interface {
	Guild(ctx context.Context, guildID int64) (models.Guild, error)
	Member(ctx context.Context, guildID int64, userID int64) (models.Member, error)
	GuildRoles(ctx context.Context, guildID int64) ([]models.Role, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve computes the effective permission set of a user in a guild.
// Owner and administrator collapse to All. A user who is not a member
// gets apperrors.ErrNotFound, never a permission answer, so callers
// don't leak guild existence.
func (resolver *Resolver) Resolve(ctx context.Context, userID int64, guildID int64) (uint64, error) {
	guild, err := resolver.store.Guild(ctx, guildID)
	if err != nil {
		return 0, err
	}

	if guild.OwnerID == userID {
		return All, nil
	}

	member, err := resolver.store.Member(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}

	roles, err := resolver.store.GuildRoles(ctx, guildID)
	if err != nil {
		return 0, err
	}

	var combined uint64
	for i := range roles {
		// the everyone-role applies to every member
		if roles[i].IsEveryone || slices.Contains(member.RoleIDs, roles[i].ID) {
			combined |= roles[i].Permissions
		}
	}

	if Has(combined, Administrator) {
		return All, nil
	}

	return combined, nil
}

// ResolveChannel is Resolve for now. Per-channel overwrites hang off
// this method when they land; callers must not assume the two agree.
func (resolver *Resolver) ResolveChannel(ctx context.Context, userID int64, guildID int64, channelID int64) (uint64, error) {
	return resolver.Resolve(ctx, userID, guildID)
}

// Require fails with ErrMissingPermissions when the member lacks the
// flag, and with ErrNotFound when the user cannot see the guild at all.
func (resolver *Resolver) Require(ctx context.Context, userID int64, guildID int64, flag uint64) error {
	resolved, err := resolver.Resolve(ctx, userID, guildID)
	if err != nil {
		return err
	}

	if !Has(resolved, flag) {
		return fmt.Errorf("user [%d] lacks %v in guild [%d]: %w", userID, List(flag), guildID, apperrors.ErrMissingPermissions)
	}

	return nil
}

func (resolver *Resolver) RequireChannel(ctx context.Context, userID int64, guildID int64, channelID int64, flag uint64) error {
	return resolver.Require(ctx, userID, guildID, flag)
}

// CanManageMember reports whether actor outranks target: the owner
// outranks everyone, the owner is untouchable, ties deny.
func (resolver *Resolver) CanManageMember(ctx context.Context, guildID int64, actorID int64, targetID int64) (bool, error) {
	guild, err := resolver.store.Guild(ctx, guildID)
	if err != nil {
		return false, err
	}

	if guild.OwnerID == actorID {
		return true, nil
	}
	if guild.OwnerID == targetID {
		return false, nil
	}

	actorPos, err := resolver.highestRolePosition(ctx, guildID, actorID)
	if err != nil {
		return false, err
	}
	targetPos, err := resolver.highestRolePosition(ctx, guildID, targetID)
	if err != nil {
		return false, err
	}

	return actorPos > targetPos, nil
}

// CanAssignRole requires MANAGE_ROLES and a strictly higher highest
// role than the role being assigned. The everyone-role is never
// assignable.
func (resolver *Resolver) CanAssignRole(ctx context.Context, actorID int64, role models.Role) (bool, error) {
	if role.IsEveryone {
		return false, nil
	}

	guild, err := resolver.store.Guild(ctx, role.GuildID)
	if err != nil {
		return false, err
	}

	if guild.OwnerID == actorID {
		return true, nil
	}

	resolved, err := resolver.Resolve(ctx, actorID, role.GuildID)
	if err != nil {
		return false, err
	}
	if !Has(resolved, ManageRoles) {
		return false, nil
	}

	actorPos, err := resolver.highestRolePosition(ctx, role.GuildID, actorID)
	if err != nil {
		return false, err
	}

	return actorPos > role.Position, nil
}

func (resolver *Resolver) highestRolePosition(ctx context.Context, guildID int64, userID int64) (int, error) {
	member, err := resolver.store.Member(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}

	roles, err := resolver.store.GuildRoles(ctx, guildID)
	if err != nil {
		return 0, err
	}

	// the everyone-role sits at position 0, so that's the floor
	highest := 0
	for i := range roles {
		if slices.Contains(member.RoleIDs, roles[i].ID) && roles[i].Position > highest {
			highest = roles[i].Position
		}
	}

	return highest, nil
}
