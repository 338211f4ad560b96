package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
)

// DefaultRequestIDWidth pads the encoded serial so ids sort by length first
const DefaultRequestIDWidth = 6

// Generator issues serials and request ids. The counter increment runs
// against the sequence repository directly, never inside a ledger unit of
// work, so an aborted movement leaves a gap instead of reusing a serial.
type Generator struct {
	repo  repositories.SequenceRepository
	width int
}

// NewGenerator creates a generator padding encoded serials to width
func NewGenerator(repo repositories.SequenceRepository, width int) *Generator {
	if width <= 0 {
		width = DefaultRequestIDWidth
	}
	return &Generator{repo: repo, width: width}
}

// Next returns the next serial of the kind's family and its request id
func (g *Generator) Next(ctx context.Context, kind entities.MovementKind) (int64, string, error) {
	if !kind.IsValid() {
		return 0, "", fmt.Errorf("invalid movement kind: %d", kind)
	}
	serial, err := g.repo.Next(ctx, kind.Traits().Family)
	if err != nil {
		return 0, "", fmt.Errorf("failed to increment %s sequence: %w", kind.Traits().Family, err)
	}
	if serial <= 0 {
		return 0, "", fmt.Errorf("sequence %s returned non-positive serial %d", kind.Traits().Family, serial)
	}
	return serial, EncodeRequestID(kind, serial, g.width), nil
}

// EncodeRequestID renders prefix(kind) + base36(serial), left padded with zeros
func EncodeRequestID(kind entities.MovementKind, serial int64, width int) string {
	encoded := strings.ToUpper(strconv.FormatInt(serial, 36))
	if len(encoded) < width {
		encoded = strings.Repeat("0", width-len(encoded)) + encoded
	}
	return kind.Traits().Prefix + encoded
}

// DecodeRequestID recovers the kind and serial from a request id
func DecodeRequestID(requestID string) (entities.MovementKind, int64, error) {
	for _, kind := range entities.AllMovementKinds() {
		prefix := kind.Traits().Prefix
		if !strings.HasPrefix(requestID, prefix) || len(requestID) == len(prefix) {
			continue
		}
		serial, err := strconv.ParseInt(strings.ToLower(requestID[len(prefix):]), 36, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid request id %q: %w", requestID, err)
		}
		return kind, serial, nil
	}
	return 0, 0, fmt.Errorf("unknown request id prefix: %q", requestID)
}
