package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Vivekb0311/sla/db"
)

// DirectoryService is the narrow lookup surface over the user directory used
// by recipient resolution.
type DirectoryService struct {
	PG *sql.DB
}

func NewDirectoryService(pg *sql.DB) *DirectoryService {
	return &DirectoryService{PG: pg}
}

const directoryColumns = `id, user_name, name, email, manager, business_unit, user_group, vendor, geography, fcm_token, is_active, created_at`

// GetUserByUsername resolves a single active directory user.
func (s *DirectoryService) GetUserByUsername(ctx context.Context, userName string) (*db.DirectoryUser, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT `+directoryColumns+` FROM users
		WHERE user_name = $1 AND is_active = true`, userName)
	user, err := scanDirectoryUser(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q not found", userName)
	}
	return user, err
}

// FilterUsers returns the active users whose given attribute matches value,
// optionally narrowed to a geography.
func (s *DirectoryService) FilterUsers(ctx context.Context, attribute, value, geography string) ([]db.DirectoryUser, error) {
	var column string
	switch attribute {
	case "usergroup":
		column = "user_group"
	case "businessunit":
		column = "business_unit"
	case "vendor":
		column = "vendor"
	default:
		return nil, fmt.Errorf("unknown directory attribute %q", attribute)
	}

	query := `SELECT ` + directoryColumns + ` FROM users WHERE ` + column + ` = $1 AND is_active = true`
	args := []interface{}{value}
	if geography != "" {
		query += ` AND geography = $2`
		args = append(args, geography)
	}

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []db.DirectoryUser
	for rows.Next() {
		user, err := scanDirectoryUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func scanDirectoryUser(row rowScanner) (*db.DirectoryUser, error) {
	var user db.DirectoryUser
	var manager, businessUnit, userGroup, vendor, geography, fcmToken sql.NullString
	err := row.Scan(&user.ID, &user.UserName, &user.Name, &user.Email,
		&manager, &businessUnit, &userGroup, &vendor, &geography, &fcmToken,
		&user.IsActive, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	user.Manager = manager.String
	user.BusinessUnit = businessUnit.String
	user.UserGroup = userGroup.String
	user.Vendor = vendor.String
	user.Geography = geography.String
	user.FCMToken = fcmToken.String
	return &user, nil
}
