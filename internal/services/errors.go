package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/teatalks/teatalks/pkg/errors"
)

var (
	// ErrUserExists is returned when an email or user name is already taken by a confirmed account.
	ErrUserExists = apperrors.ErrConflict.WithMessage("User already exists")
	// ErrUserNameReserved is returned when another pending sign-up holds the user name.
	ErrUserNameReserved = apperrors.ErrConflict.WithMessage("Username reserved by pending registration")
	// ErrRegistrationInProgress is returned when a concurrent request for the same email won.
	ErrRegistrationInProgress = apperrors.ErrConflict.WithMessage("Registration already in progress for this email")
	// ErrPendingNotFound indicates there is no outstanding registration for the email.
	ErrPendingNotFound = apperrors.ErrNotFound.WithMessage("No pending registration found for this email")
	// ErrResetNotFound indicates there is no outstanding password reset for the email.
	ErrResetNotFound = apperrors.ErrNotFound.WithMessage("No password reset requested for this email")
	// ErrNonCollegeEmail rejects addresses outside the configured institution domain.
	ErrNonCollegeEmail = apperrors.New("BAD_REQUEST", "Please use your college email address", http.StatusBadRequest)

	ErrUserNotFound    = apperrors.ErrNotFound.WithMessage("User not found")
	ErrPostNotFound    = apperrors.ErrNotFound.WithMessage("Post not found")
	ErrCommentNotFound = apperrors.ErrNotFound.WithMessage("Comment not found")

	ErrNotPostAuthor    = apperrors.ErrForbidden.WithMessage("You can only modify your own posts")
	ErrNotCommentAuthor = apperrors.ErrForbidden.WithMessage("You can only delete your own comments")

	ErrInvalidReactionType = apperrors.NewBadRequest("Invalid reaction type")
	ErrInvalidTargetType   = apperrors.NewBadRequest("Invalid reaction target")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	// sqlite only reports the violation through its message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
