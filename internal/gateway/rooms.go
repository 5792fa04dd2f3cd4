package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jes11sy/realtime-service/internal/token"
)

// Well-known room names and per-subject room prefixes.
const (
	RoomOperators = "operators"
	RoomDirectors = "directors"

	roomPrefixOperator = "operator:"
	roomPrefixMaster   = "master:"
	roomPrefixUser     = "user:"
	roomPrefixOrder    = "order:"
	roomPrefixCity     = "city:"
)

// roomNameRe constrains room names to ASCII letters, digits, colon, underscore, and hyphen, 1-100 characters.
// Non-Latin city names (city:Саратов appears in upstream payloads) do not pass; callers must transliterate.
var roomNameRe = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,100}$`)

// ValidateRoomName rejects names outside the allowed character class or length.
func ValidateRoomName(room string) error {
	if !roomNameRe.MatchString(room) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomName, room)
	}
	return nil
}

// Per-subject room constructors used by the webhook ingress and the notification services.

func OperatorRoom(operatorID int64) string { return roomPrefixOperator + strconv.FormatInt(operatorID, 10) }
func MasterRoom(masterID int64) string     { return roomPrefixMaster + strconv.FormatInt(masterID, 10) }
func UserRoom(userID int64) string         { return roomPrefixUser + strconv.FormatInt(userID, 10) }
func OrderRoom(orderID int64) string       { return roomPrefixOrder + strconv.FormatInt(orderID, 10) }
func CityRoom(city string) string          { return roomPrefixCity + city }

// CanJoin enforces the room access policy for an explicit join-room request:
//   - directors requires the director role;
//   - operator:<id>, master:<id>, and user:<id> require the id to be the joiner's own userId, or the director role;
//   - order:<id> and every other valid room are open to any authenticated user.
func CanJoin(id token.Identity, room string) error {
	if err := ValidateRoomName(room); err != nil {
		return err
	}

	role := NormalizeRole(id.Role)

	if room == RoomDirectors && !role.MayActAsDirector() {
		return fmt.Errorf("%w: %s requires the director role", ErrForbiddenRoom, RoomDirectors)
	}

	for _, prefix := range []string{roomPrefixOperator, roomPrefixMaster, roomPrefixUser} {
		suffix, ok := strings.CutPrefix(room, prefix)
		if !ok {
			continue
		}
		if role.MayActAsDirector() {
			return nil
		}
		subject, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil || subject != id.UserID {
			return fmt.Errorf("%w: %q belongs to another subject", ErrForbiddenRoom, room)
		}
		return nil
	}

	return nil
}
