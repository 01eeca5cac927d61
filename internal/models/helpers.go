package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// TicketNumberBase makes every ticket number exactly 13 digits.
const TicketNumberBase int64 = 1_000_000_000_000

var (
	node     *snowflake.Node
	nodeOnce sync.Once
)

func GenerateGameID() string {
	return fmt.Sprintf("game_%s_%s",
		time.Now().Format("20060102"),
		uuid.New().String()[:8])
}

// GenerateBetID returns a snowflake id; node 1 is fine for a single engine process.
func GenerateBetID() string {
	nodeOnce.Do(func() {
		var err error
		node, err = snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
	})
	return node.Generate().String()
}

// FormatTicketNumber turns a sequence value into the printed 13-digit ticket number.
func FormatTicketNumber(seq int64) string {
	return fmt.Sprintf("%013d", TicketNumberBase+seq)
}
