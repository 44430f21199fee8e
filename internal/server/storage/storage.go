// Package storage is the development backend's Postgres layer.
//
// Schema:
//
//	users(id text pk, display_name text, email text unique, password_hash text,
//	      role text, avatar_url text, mfa_enabled bool, created_at timestamptz)
//	blocks(blocker_id text, blocked_id text, primary key (blocker_id, blocked_id))
//	messages(id text pk, correlation_id text, sender_id text, recipient_id text,
//	         group_id text, body_text text, image_url text, audio_url text,
//	         document_url text, seen bool, created_at timestamptz)
//	groups(id text pk, name text, avatar_url text, creator_id text, created_at timestamptz)
//	group_members(group_id text, user_id text, member_role text,
//	              primary key (group_id, user_id))
//	tips(transaction_id text pk, amount numeric, tipper_id text, receiver_id text,
//	     message_id text, created_at timestamptz)
//	unread_flags(user_id text, peer_id text, primary key (user_id, peer_id))
//	reset_codes(email text pk, code text, expires_at timestamptz)
package storage

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/wisp-chat/wisp/internal/server/models"
)

type Store struct {
	db *sql.DB
}

func New(databaseURL string) *Store {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err = db.Ping(); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Connected to database")
	return &Store{db: db}
}

func (s *Store) Close() {
	s.db.Close()
}

// User Methods

func (s *Store) CreateUser(displayName, email, passwordHash string) (*models.User, error) {
	u := models.User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Email:       email,
		Role:        "user",
	}
	err := s.db.QueryRow(`
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, u.ID, displayName, email, passwordHash, u.Role).Scan(&u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(`
		SELECT id, display_name, email, password_hash, role, COALESCE(avatar_url, ''), mfa_enabled, created_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.AvatarURL, &u.MFAEnabled, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByID(id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(`
		SELECT id, display_name, email, role, COALESCE(avatar_url, ''), created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Email, &u.Role, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateProfile(id, displayName, avatarURL string) (*models.User, error) {
	_, err := s.db.Exec(`
		UPDATE users
		SET display_name = COALESCE(NULLIF($2, ''), display_name),
		    avatar_url = COALESCE(NULLIF($3, ''), avatar_url)
		WHERE id = $1
	`, id, displayName, avatarURL)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(id)
}

func (s *Store) SetPassword(email, passwordHash string) error {
	_, err := s.db.Exec("UPDATE users SET password_hash = $1 WHERE email = $2", passwordHash, email)
	return err
}

// Reset codes

func (s *Store) SaveResetCode(email, code string) error {
	_, err := s.db.Exec(`
		INSERT INTO reset_codes (email, code, expires_at)
		VALUES ($1, $2, NOW() + interval '15 minutes')
		ON CONFLICT (email) DO UPDATE SET code = $2, expires_at = NOW() + interval '15 minutes'
	`, email, code)
	return err
}

func (s *Store) CheckResetCode(email, code string) (bool, error) {
	var stored string
	err := s.db.QueryRow(
		"SELECT code FROM reset_codes WHERE email = $1 AND expires_at > NOW()",
		email,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == code, nil
}

func (s *Store) HasResetCode(email string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM reset_codes WHERE email = $1 AND expires_at > NOW()",
		email,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) ClearResetCode(email string) error {
	_, err := s.db.Exec("DELETE FROM reset_codes WHERE email = $1", email)
	return err
}

// Blocking

func (s *Store) Block(blockerID, blockedID string) error {
	_, err := s.db.Exec(
		"INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		blockerID, blockedID,
	)
	return err
}

func (s *Store) Unblock(blockerID, blockedID string) (*models.User, error) {
	res, err := s.db.Exec(
		"DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2",
		blockerID, blockedID,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("user %s is not blocked", blockedID)
	}
	return s.GetUserByID(blockedID)
}

func (s *Store) BlockedUsers(userID string) ([]models.User, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.display_name, COALESCE(u.avatar_url, '')
		FROM blocks b JOIN users u ON u.id = b.blocked_id
		WHERE b.blocker_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.AvatarURL); err != nil {
			log.Printf("Error scanning blocked user: %v", err)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// Correspondents returns every other user, annotated with the last message
// preview and an unread flag for the requesting user.
func (s *Store) Correspondents(userID string) ([]models.User, error) {
	rows, err := s.db.Query(`
		SELECT
			u.id,
			u.display_name,
			COALESCE(u.avatar_url, ''),
			COALESCE((
				SELECT m.body_text FROM messages m
				WHERE m.group_id IS NULL
				  AND ((m.sender_id = u.id AND m.recipient_id = $1)
				    OR (m.sender_id = $1 AND m.recipient_id = u.id))
				ORDER BY m.created_at DESC LIMIT 1
			), '') AS last_preview,
			EXISTS(
				SELECT 1 FROM messages m
				WHERE m.group_id IS NULL AND m.sender_id = u.id
				  AND m.recipient_id = $1 AND NOT m.seen
			) OR EXISTS(
				SELECT 1 FROM unread_flags f
				WHERE f.user_id = $1 AND f.peer_id = u.id
			) AS unread
		FROM users u
		WHERE u.id != $1
		ORDER BY u.display_name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.LastPreview, &u.Unread); err != nil {
			log.Printf("Error scanning correspondent: %v", err)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// Messages

func scanMessages(rows *sql.Rows) []models.Message {
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var corr, recipient, group, image, audio, document sql.NullString
		if err := rows.Scan(&m.ID, &corr, &m.SenderID, &recipient, &group,
			&m.Text, &image, &audio, &document, &m.CreatedAt); err != nil {
			log.Printf("Error scanning message: %v", err)
			continue
		}
		m.CorrelationID = corr.String
		m.RecipientID = recipient.String
		m.GroupID = group.String
		m.ImageURL = image.String
		m.AudioURL = audio.String
		m.DocumentURL = document.String
		msgs = append(msgs, m)
	}
	return msgs
}

const messageColumns = `id, correlation_id, sender_id, recipient_id, group_id,
	COALESCE(body_text, ''), image_url, audio_url, document_url, created_at`

func (s *Store) DirectMessages(userID, peerID string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE group_id IS NULL
		  AND ((sender_id = $1 AND recipient_id = $2)
		    OR (sender_id = $2 AND recipient_id = $1))
		ORDER BY created_at
	`, userID, peerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows), nil
}

func (s *Store) SaveDirectMessage(m models.Message) (models.Message, error) {
	m.ID = uuid.NewString()
	err := s.db.QueryRow(`
		INSERT INTO messages (id, correlation_id, sender_id, recipient_id,
			body_text, image_url, audio_url, document_url, seen)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), false)
		RETURNING created_at
	`, m.ID, m.CorrelationID, m.SenderID, m.RecipientID,
		m.Text, m.ImageURL, m.AudioURL, m.DocumentURL).Scan(&m.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return m, nil
}

func (s *Store) DeleteConversation(userID, peerID string) error {
	_, err := s.db.Exec(`
		DELETE FROM messages
		WHERE group_id IS NULL
		  AND ((sender_id = $1 AND recipient_id = $2)
		    OR (sender_id = $2 AND recipient_id = $1))
	`, userID, peerID)
	return err
}

func (s *Store) MarkSeen(userID, senderID string) error {
	_, err := s.db.Exec(`
		UPDATE messages SET seen = true
		WHERE group_id IS NULL AND sender_id = $1 AND recipient_id = $2
	`, senderID, userID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"DELETE FROM unread_flags WHERE user_id = $1 AND peer_id = $2",
		userID, senderID,
	)
	return err
}

func (s *Store) MarkUnread(userID, peerID string) error {
	_, err := s.db.Exec(
		"INSERT INTO unread_flags (user_id, peer_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		userID, peerID,
	)
	return err
}

// Groups

func (s *Store) CreateGroup(creatorID, name string, memberIDs []string) (*models.Group, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	g := models.Group{ID: uuid.NewString(), Name: name, CreatorID: creatorID}
	err = tx.QueryRow(
		"INSERT INTO groups (id, name, creator_id) VALUES ($1, $2, $3) RETURNING created_at",
		g.ID, name, creatorID,
	).Scan(&g.CreatedAt)
	if err != nil {
		return nil, err
	}

	// The creator is always a member, with the admin role.
	_, err = tx.Exec(
		"INSERT INTO group_members (group_id, user_id, member_role) VALUES ($1, $2, 'admin')",
		g.ID, creatorID,
	)
	if err != nil {
		return nil, err
	}

	for _, id := range memberIDs {
		if id == creatorID {
			continue
		}
		_, err = tx.Exec(
			"INSERT INTO group_members (group_id, user_id, member_role) VALUES ($1, $2, 'member') ON CONFLICT DO NOTHING",
			g.ID, id,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	members, err := s.GroupMembers(g.ID)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return &g, nil
}

func (s *Store) GroupMembers(groupID string) ([]models.GroupMember, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.display_name, COALESCE(u.avatar_url, ''), gm.member_role
		FROM group_members gm JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.GroupMember
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.AvatarURL, &m.MemberRole); err != nil {
			log.Printf("Error scanning group member: %v", err)
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

func (s *Store) GroupMemberIDs(groupID string) ([]string, error) {
	rows, err := s.db.Query("SELECT user_id FROM group_members WHERE group_id = $1", groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) UserGroups(userID string) ([]models.Group, error) {
	rows, err := s.db.Query(`
		SELECT g.id, g.name, COALESCE(g.avatar_url, ''), g.creator_id, g.created_at
		FROM groups g JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.AvatarURL, &g.CreatorID, &g.CreatedAt); err != nil {
			log.Printf("Error scanning group: %v", err)
			continue
		}
		groups = append(groups, g)
	}

	for i := range groups {
		members, err := s.GroupMembers(groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Members = members
	}
	return groups, nil
}

func (s *Store) IsGroupMember(groupID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2",
		groupID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) GroupMessages(groupID string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+`
		FROM messages WHERE group_id = $1
		ORDER BY created_at
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows), nil
}

func (s *Store) SaveGroupMessage(m models.Message) (models.Message, error) {
	m.ID = uuid.NewString()
	err := s.db.QueryRow(`
		INSERT INTO messages (id, correlation_id, sender_id, group_id,
			body_text, image_url, audio_url, document_url, seen)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), true)
		RETURNING created_at
	`, m.ID, m.CorrelationID, m.SenderID, m.GroupID,
		m.Text, m.ImageURL, m.AudioURL, m.DocumentURL).Scan(&m.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return m, nil
}

func (s *Store) RenameGroup(groupID, name string) error {
	_, err := s.db.Exec("UPDATE groups SET name = $1 WHERE id = $2", name, groupID)
	return err
}

func (s *Store) UpdateGroupAvatar(groupID, avatarURL string) (*models.Group, error) {
	_, err := s.db.Exec("UPDATE groups SET avatar_url = $1 WHERE id = $2", avatarURL, groupID)
	if err != nil {
		return nil, err
	}
	var g models.Group
	err = s.db.QueryRow(`
		SELECT id, name, COALESCE(avatar_url, ''), creator_id, created_at
		FROM groups WHERE id = $1
	`, groupID).Scan(&g.ID, &g.Name, &g.AvatarURL, &g.CreatorID, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) AddGroupMember(groupID, userID string) (*models.User, error) {
	_, err := s.db.Exec(
		"INSERT INTO group_members (group_id, user_id, member_role) VALUES ($1, $2, 'member') ON CONFLICT DO NOTHING",
		groupID, userID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(userID)
}

func (s *Store) LeaveGroup(groupID, userID string) error {
	_, err := s.db.Exec(
		"DELETE FROM group_members WHERE group_id = $1 AND user_id = $2",
		groupID, userID,
	)
	return err
}

// Tips

// SaveTip records a tip once per transaction id. Replays of the same
// transaction id are silently absorbed.
func (s *Store) SaveTip(t models.Tip) error {
	_, err := s.db.Exec(`
		INSERT INTO tips (transaction_id, amount, tipper_id, receiver_id, message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (transaction_id) DO NOTHING
	`, t.TransactionID, t.Amount, t.TipperID, t.ReceiverID, t.MessageID)
	return err
}
