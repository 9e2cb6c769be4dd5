// Package store holds the SQL reads and writes shared between the
// REST handlers, the permission resolver and the gateway.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/models"
	"guildchat-backend/internal/permissions"

	"go.uber.org/zap"
)

// what the everyone-role of a fresh guild grants
const defaultEveryonePermissions = int64(permissions.Default)

var sugar *zap.SugaredLogger
var db *sql.DB

func Setup(_sugar *zap.SugaredLogger, _db *sql.DB) {
	sugar = _sugar
	db = _db
}

// Store adapts the package to the interfaces the resolver accepts.
type Store struct{}

func wrap(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
}

// --- users ---

func User(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := db.QueryRowContext(ctx,
		"SELECT id, username, discriminator FROM users WHERE id = ?", userID).
		Scan(&user.ID, &user.Username, &user.Discriminator)
	if err != nil {
		return models.User{}, wrap(err)
	}
	return user, nil
}

func UserByName(ctx context.Context, username string, discriminator string) (models.User, []byte, error) {
	var user models.User
	var password []byte
	err := db.QueryRowContext(ctx,
		"SELECT id, username, discriminator, password FROM users WHERE username = ? AND discriminator = ?",
		username, discriminator).
		Scan(&user.ID, &user.Username, &user.Discriminator, &password)
	if err != nil {
		return models.User{}, nil, wrap(err)
	}
	return user, password, nil
}

func CreateUser(ctx context.Context, user models.User, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO users (id, username, discriminator, password) VALUES (?, ?, ?, ?)",
		user.ID, user.Username, user.Discriminator, passwordHash)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, wrap(err)
	}
	return exists, nil
}

func DiscriminatorTaken(ctx context.Context, username string, discriminator string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = ? AND discriminator = ?)",
		username, discriminator).Scan(&exists)
	if err != nil {
		return false, wrap(err)
	}
	return exists, nil
}

// --- guilds ---

func (Store) Guild(ctx context.Context, guildID int64) (models.Guild, error) {
	return Guild(ctx, guildID)
}

func Guild(ctx context.Context, guildID int64) (models.Guild, error) {
	var guild models.Guild
	err := db.QueryRowContext(ctx,
		"SELECT id, owner_id, name FROM guilds WHERE id = ?", guildID).
		Scan(&guild.ID, &guild.OwnerID, &guild.Name)
	if err != nil {
		return models.Guild{}, wrap(err)
	}
	return guild, nil
}

// CreateGuild writes the guild row, its everyone-role (same id as the
// guild) and the owner's membership in one transaction.
func CreateGuild(ctx context.Context, guild models.Guild, joinedAt int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO guilds (id, owner_id, name) VALUES (?, ?, ?)",
		guild.ID, guild.OwnerID, guild.Name)
	if err != nil {
		return wrap(err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO roles (id, guild_id, name, position, permissions, is_everyone) VALUES (?, ?, ?, 0, ?, TRUE)",
		guild.ID, guild.ID, "everyone", defaultEveryonePermissions)
	if err != nil {
		return wrap(err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO members (guild_id, user_id, joined_at) VALUES (?, ?, ?)",
		guild.ID, guild.OwnerID, joinedAt)
	if err != nil {
		return wrap(err)
	}

	err = tx.Commit()
	if err != nil {
		return wrap(err)
	}
	return nil
}

func UpdateGuild(ctx context.Context, guild models.Guild) error {
	_, err := db.ExecContext(ctx,
		"UPDATE guilds SET name = ? WHERE id = ?", guild.Name, guild.ID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// DeleteGuild removes the guild; roles, channels and members cascade.
func DeleteGuild(ctx context.Context, guildID int64) error {
	_, err := db.ExecContext(ctx, "DELETE FROM guilds WHERE id = ?", guildID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// --- members ---

func (Store) Member(ctx context.Context, guildID int64, userID int64) (models.Member, error) {
	return Member(ctx, guildID, userID)
}

func Member(ctx context.Context, guildID int64, userID int64) (models.Member, error) {
	var member models.Member
	err := db.QueryRowContext(ctx,
		"SELECT guild_id, user_id, joined_at FROM members WHERE guild_id = ? AND user_id = ?",
		guildID, userID).
		Scan(&member.GuildID, &member.UserID, &member.JoinedAt)
	if err != nil {
		return models.Member{}, wrap(err)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT role_id FROM member_roles WHERE guild_id = ? AND user_id = ?",
		guildID, userID)
	if err != nil {
		return models.Member{}, wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		err = rows.Scan(&roleID)
		if err != nil {
			return models.Member{}, wrap(err)
		}
		member.RoleIDs = append(member.RoleIDs, roleID)
	}
	if err = rows.Err(); err != nil {
		return models.Member{}, wrap(err)
	}

	return member, nil
}

func Members(ctx context.Context, guildID int64) ([]models.Member, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT guild_id, user_id, joined_at FROM members WHERE guild_id = ?", guildID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var member models.Member
		err = rows.Scan(&member.GuildID, &member.UserID, &member.JoinedAt)
		if err != nil {
			return nil, wrap(err)
		}
		members = append(members, member)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(err)
	}

	for i := range members {
		full, err := Member(ctx, guildID, members[i].UserID)
		if err != nil {
			return nil, err
		}
		members[i].RoleIDs = full.RoleIDs
	}

	return members, nil
}

func IsMember(ctx context.Context, guildID int64, userID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM members WHERE guild_id = ? AND user_id = ?)",
		guildID, userID).Scan(&exists)
	if err != nil {
		return false, wrap(err)
	}
	return exists, nil
}

func AddMember(ctx context.Context, guildID int64, userID int64, joinedAt int64) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO members (guild_id, user_id, joined_at) VALUES (?, ?, ?)",
		guildID, userID, joinedAt)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func RemoveMember(ctx context.Context, guildID int64, userID int64) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM members WHERE guild_id = ? AND user_id = ?", guildID, userID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// UserGuilds lists the guild IDs a user is a member of.
func UserGuilds(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT guild_id FROM members WHERE user_id = ?", userID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var guildIDs []int64
	for rows.Next() {
		var guildID int64
		err = rows.Scan(&guildID)
		if err != nil {
			return nil, wrap(err)
		}
		guildIDs = append(guildIDs, guildID)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(err)
	}

	return guildIDs, nil
}

// --- roles ---

func (Store) GuildRoles(ctx context.Context, guildID int64) ([]models.Role, error) {
	return GuildRoles(ctx, guildID)
}

func GuildRoles(ctx context.Context, guildID int64) ([]models.Role, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, guild_id, name, position, permissions, is_everyone FROM roles WHERE guild_id = ?",
		guildID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		var role models.Role
		var permissions int64
		err = rows.Scan(&role.ID, &role.GuildID, &role.Name, &role.Position, &permissions, &role.IsEveryone)
		if err != nil {
			return nil, wrap(err)
		}
		role.Permissions = uint64(permissions)
		roles = append(roles, role)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(err)
	}

	return roles, nil
}

func Role(ctx context.Context, roleID int64) (models.Role, error) {
	var role models.Role
	var permissions int64
	err := db.QueryRowContext(ctx,
		"SELECT id, guild_id, name, position, permissions, is_everyone FROM roles WHERE id = ?",
		roleID).
		Scan(&role.ID, &role.GuildID, &role.Name, &role.Position, &permissions, &role.IsEveryone)
	if err != nil {
		return models.Role{}, wrap(err)
	}
	role.Permissions = uint64(permissions)
	return role, nil
}

func CreateRole(ctx context.Context, role models.Role) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO roles (id, guild_id, name, position, permissions, is_everyone) VALUES (?, ?, ?, ?, ?, ?)",
		role.ID, role.GuildID, role.Name, role.Position, int64(role.Permissions), role.IsEveryone)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func AssignRole(ctx context.Context, guildID int64, userID int64, roleID int64) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO member_roles (guild_id, user_id, role_id) VALUES (?, ?, ?)",
		guildID, userID, roleID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func UnassignRole(ctx context.Context, guildID int64, userID int64, roleID int64) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM member_roles WHERE guild_id = ? AND user_id = ? AND role_id = ?",
		guildID, userID, roleID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// --- channels ---

func Channel(ctx context.Context, channelID int64) (models.Channel, error) {
	var channel models.Channel
	var guildID, parentID sql.NullInt64
	err := db.QueryRowContext(ctx,
		"SELECT id, guild_id, type, parent_id, name FROM channels WHERE id = ?", channelID).
		Scan(&channel.ID, &guildID, &channel.Type, &parentID, &channel.Name)
	if err != nil {
		return models.Channel{}, wrap(err)
	}
	channel.GuildID = guildID.Int64
	channel.ParentID = parentID.Int64
	return channel, nil
}

func GuildChannels(ctx context.Context, guildID int64) ([]models.Channel, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, guild_id, type, parent_id, name FROM channels WHERE guild_id = ?", guildID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var channel models.Channel
		var parentID sql.NullInt64
		err = rows.Scan(&channel.ID, &channel.GuildID, &channel.Type, &parentID, &channel.Name)
		if err != nil {
			return nil, wrap(err)
		}
		channel.ParentID = parentID.Int64
		channels = append(channels, channel)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(err)
	}

	return channels, nil
}

func CreateChannel(ctx context.Context, channel models.Channel) error {
	var guildID, parentID any
	if channel.GuildID != 0 {
		guildID = channel.GuildID
	}
	if channel.ParentID != 0 {
		parentID = channel.ParentID
	}

	_, err := db.ExecContext(ctx,
		"INSERT INTO channels (id, guild_id, type, parent_id, name) VALUES (?, ?, ?, ?, ?)",
		channel.ID, guildID, channel.Type, parentID, channel.Name)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func UpdateChannel(ctx context.Context, channel models.Channel) error {
	_, err := db.ExecContext(ctx,
		"UPDATE channels SET name = ? WHERE id = ?", channel.Name, channel.ID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func DeleteChannel(ctx context.Context, channelID int64) error {
	_, err := db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", channelID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// --- direct messages ---

func CreateDmChannel(ctx context.Context, channel models.Channel, recipients []int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO channels (id, guild_id, type, parent_id, name) VALUES (?, NULL, ?, NULL, ?)",
		channel.ID, models.ChannelTypeDm, channel.Name)
	if err != nil {
		return wrap(err)
	}

	for i := range recipients {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO dm_recipients (channel_id, user_id) VALUES (?, ?)",
			channel.ID, recipients[i])
		if err != nil {
			return wrap(err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return wrap(err)
	}
	return nil
}

func DmRecipients(ctx context.Context, channelID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT user_id FROM dm_recipients WHERE channel_id = ?", channelID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var recipients []int64
	for rows.Next() {
		var userID int64
		err = rows.Scan(&userID)
		if err != nil {
			return nil, wrap(err)
		}
		recipients = append(recipients, userID)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(err)
	}

	return recipients, nil
}

func DmChannelsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT channel_id FROM dm_recipients WHERE user_id = ?", userID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var channelIDs []int64
	for rows.Next() {
		var channelID int64
		err = rows.Scan(&channelID)
		if err != nil {
			return nil, wrap(err)
		}
		channelIDs = append(channelIDs, channelID)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(err)
	}

	return channelIDs, nil
}

// --- messages ---

func CreateMessage(ctx context.Context, message models.Message) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO messages (id, channel_id, user_id, content, edited) VALUES (?, ?, ?, ?, ?)",
		message.ID, message.ChannelID, message.Author.ID, message.Content, message.Edited)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func Message(ctx context.Context, messageID int64) (models.Message, error) {
	var message models.Message
	err := db.QueryRowContext(ctx, `
		SELECT messages.id, messages.channel_id, messages.content, messages.edited,
			users.id, users.username, users.discriminator
		FROM messages
		JOIN users ON messages.user_id = users.id
		WHERE messages.id = ?`, messageID).
		Scan(&message.ID, &message.ChannelID, &message.Content, &message.Edited,
			&message.Author.ID, &message.Author.Username, &message.Author.Discriminator)
	if err != nil {
		return models.Message{}, wrap(err)
	}
	return message, nil
}

// Messages lists a channel newest first, optionally before a message
// ID (snowflakes order chronologically, so the ID is the cursor).
func Messages(ctx context.Context, channelID int64, before int64, limit int) ([]models.Message, error) {
	if before == 0 {
		before = int64(^uint64(0) >> 1)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT messages.id, messages.channel_id, messages.content, messages.edited,
			users.id, users.username, users.discriminator
		FROM messages
		JOIN users ON messages.user_id = users.id
		WHERE messages.channel_id = ? AND messages.id < ?
		ORDER BY messages.id DESC
		LIMIT ?`, channelID, before, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var message models.Message
		err = rows.Scan(&message.ID, &message.ChannelID, &message.Content, &message.Edited,
			&message.Author.ID, &message.Author.Username, &message.Author.Discriminator)
		if err != nil {
			return nil, wrap(err)
		}
		messages = append(messages, message)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(err)
	}

	return messages, nil
}

func UpdateMessage(ctx context.Context, messageID int64, content string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE messages SET content = ?, edited = TRUE WHERE id = ?", content, messageID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func DeleteMessage(ctx context.Context, messageID int64) error {
	_, err := db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", messageID)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// --- reactions ---

func ReactionExists(ctx context.Context, messageID int64, userID int64, emoji string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?)",
		messageID, userID, emoji).Scan(&exists)
	if err != nil {
		return false, wrap(err)
	}
	return exists, nil
}

func AddReaction(ctx context.Context, messageID int64, userID int64, emoji string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO reactions (message_id, user_id, emoji) VALUES (?, ?, ?)",
		messageID, userID, emoji)
	if err != nil {
		return wrap(err)
	}
	return nil
}

// RemoveReaction reports whether the reaction was actually there.
func RemoveReaction(ctx context.Context, messageID int64, userID int64, emoji string) (bool, error) {
	result, err := db.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?",
		messageID, userID, emoji)
	if err != nil {
		return false, wrap(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, wrap(err)
	}
	return affected > 0, nil
}

// --- snapshots ---

// GuildSnapshot assembles the full guild payload for GUILD_CREATE.
func GuildSnapshot(ctx context.Context, guildID int64) (models.GuildSnapshot, error) {
	guild, err := Guild(ctx, guildID)
	if err != nil {
		return models.GuildSnapshot{}, err
	}

	channels, err := GuildChannels(ctx, guildID)
	if err != nil {
		return models.GuildSnapshot{}, err
	}

	roles, err := GuildRoles(ctx, guildID)
	if err != nil {
		return models.GuildSnapshot{}, err
	}

	members, err := Members(ctx, guildID)
	if err != nil {
		return models.GuildSnapshot{}, err
	}

	return models.GuildSnapshot{
		Guild:    guild,
		Channels: channels,
		Roles:    roles,
		Members:  members,
	}, nil
}
