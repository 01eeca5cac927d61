package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bingo-cashier-backend/internal/config"
	"bingo-cashier-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisService stores tickets and games in Redis. Guarded writes and redemption run as Lua
// scripts so each is a single atomic step on the server.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// scriptError turns a script's error reply into an engine error.
func scriptError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NOT_FOUND"):
		return notFoundError(op, "%s", strings.TrimSpace(msg[strings.Index(msg, "NOT_FOUND")+len("NOT_FOUND"):]))
	case strings.Contains(msg, "CONFLICT"):
		return conflictError(op, "%s", strings.TrimSpace(msg[strings.Index(msg, "CONFLICT")+len("CONFLICT"):]))
	}
	return transientError(op, err)
}

// ---- tickets ----

func (s *RedisService) NextTicketNumber(ctx context.Context) (string, error) {
	seq, err := s.client.Incr(ctx, KeyTicketSeq).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate ticket number: %w", err)
	}
	return models.FormatTicketNumber(seq), nil
}

func (s *RedisService) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	slotKey := fmt.Sprintf(KeyGameCard, ticket.GameID, ticket.CardID)

	ok, err := s.client.SetNX(ctx, slotKey, ticket.TicketNumber, TTLGameSession).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve card slot: %w", err)
	}
	if !ok {
		holder, _ := s.client.Get(ctx, slotKey).Result()
		return conflictError("create ticket", "card %d already has ticket %s in game %s",
			ticket.CardID, holder, ticket.GameID)
	}

	data, err := json.Marshal(ticket)
	if err != nil {
		s.client.Del(ctx, slotKey)
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	listKey := fmt.Sprintf(KeyGameTickets, ticket.GameID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyTicket, ticket.TicketNumber), data, TTLTicket)
	pipe.RPush(ctx, listKey, ticket.TicketNumber)
	pipe.Expire(ctx, listKey, TTLTicket)
	if _, err := pipe.Exec(ctx); err != nil {
		s.client.Del(ctx, slotKey)
		return fmt.Errorf("failed to save ticket: %w", err)
	}
	return nil
}

func (s *RedisService) GetTicket(ctx context.Context, ticketNumber string) (*models.Ticket, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyTicket, ticketNumber)).Result()
	if err == redis.Nil {
		return nil, notFoundError("get ticket", "ticket %s not found", ticketNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	var ticket models.Ticket
	if err := json.Unmarshal([]byte(data), &ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	return &ticket, nil
}

func (s *RedisService) FindTicketByCard(ctx context.Context, gameID string, cardID int) (*models.Ticket, error) {
	number, err := s.client.Get(ctx, fmt.Sprintf(KeyGameCard, gameID, cardID)).Result()
	if err == redis.Nil {
		return nil, notFoundError("find ticket", "no ticket for card %d in game %s", cardID, gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read card slot: %w", err)
	}
	return s.GetTicket(ctx, number)
}

func (s *RedisService) ListTickets(ctx context.Context, gameID string) ([]*models.Ticket, error) {
	numbers, err := s.client.LRange(ctx, fmt.Sprintf(KeyGameTickets, gameID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	if len(numbers) == 0 {
		return []*models.Ticket{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(numbers))
	for i, n := range numbers {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf(KeyTicket, n))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	tickets := make([]*models.Ticket, 0, len(numbers))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get ticket: %w", err)
		}
		var t models.Ticket
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
		}
		tickets = append(tickets, &t)
	}
	return tickets, nil
}

var releaseCardScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

func (s *RedisService) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	key := fmt.Sprintf(KeyTicket, ticket.TicketNumber)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check ticket: %w", err)
	}
	if exists == 0 {
		return notFoundError("update ticket", "ticket %s not found", ticket.TicketNumber)
	}

	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	if err := s.client.Set(ctx, key, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}

	if ticket.Status == models.TicketStatusCancelled {
		slotKey := fmt.Sprintf(KeyGameCard, ticket.GameID, ticket.CardID)
		if err := releaseCardScript.Run(ctx, s.client, []string{slotKey}, ticket.TicketNumber).Err(); err != nil {
			return fmt.Errorf("failed to release card slot: %w", err)
		}
	}
	return nil
}

func (s *RedisService) CountTickets(ctx context.Context, gameID string, statuses ...models.TicketStatus) (int, error) {
	tickets, err := s.ListTickets(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if len(statuses) == 0 {
		return len(tickets), nil
	}
	count := 0
	for _, t := range tickets {
		if hasStatus(t.Status, statuses) {
			count++
		}
	}
	return count, nil
}

// redeemScript settles one ticket. The payout key is the per-game "already paid" marker: the
// first ticket to SETNX it claims the prize, won or lost, and sweeps every other live ticket.
var redeemScript = redis.NewScript(`
	local payoutKey = KEYS[1]
	local listKey = KEYS[2]
	local number = ARGV[1]
	local prize = tonumber(ARGV[2])
	local now = ARGV[3]
	local prefix = ARGV[4]
	local gameID = ARGV[5]
	local ttl = tonumber(ARGV[6])

	local function settle(key, t, status, win)
		t.status = status
		t.win_amount = win
		t.settled_at = now
		local encoded = cjson.encode(t)
		redis.call("SET", key, encoded, "KEEPTTL")
		return encoded
	end

	local key = prefix .. number
	local data = redis.call("GET", key)
	if not data then
		return redis.error_reply("NOT_FOUND ticket " .. number)
	end
	local t = cjson.decode(data)
	if t.game_id ~= gameID then
		return redis.error_reply("NOT_FOUND ticket " .. number .. " in game " .. gameID)
	end

	if t.status == "won_redeemed" or t.status == "lost_redeemed" then
		return {"unchanged", data}
	end
	if t.status ~= "won" and t.status ~= "lost" then
		return redis.error_reply("CONFLICT ticket " .. number .. " is " .. t.status)
	end

	if redis.call("SET", payoutKey, number, "NX", "EX", ttl) == false then
		local outcome = "lost"
		if t.status == "won" then
			outcome = "race_lost"
		end
		return {outcome, settle(key, t, "lost_redeemed", 0)}
	end

	local claimed = settle(key, t, "won_redeemed", prize)
	for _, other in ipairs(redis.call("LRANGE", listKey, 0, -1)) do
		if other ~= number then
			local okey = prefix .. other
			local odata = redis.call("GET", okey)
			if odata then
				local o = cjson.decode(odata)
				if o.status ~= "cancelled" and o.status ~= "won_redeemed" and o.status ~= "lost_redeemed" then
					settle(okey, o, "lost_redeemed", 0)
				end
			end
		end
	end
	return {"claimed", claimed}
`)

func (s *RedisService) RedeemTicket(ctx context.Context, gameID, ticketNumber string, prize float64, at time.Time) (*models.Ticket, RedeemOutcome, error) {
	keys := []string{
		fmt.Sprintf(KeyGamePayout, gameID),
		fmt.Sprintf(KeyGameTickets, gameID),
	}
	res, err := redeemScript.Run(ctx, s.client, keys,
		ticketNumber,
		strconv.FormatFloat(prize, 'f', 2, 64),
		at.UTC().Format(time.RFC3339Nano),
		ticketKeyPrefix,
		gameID,
		int64(TTLTicket.Seconds()),
	).Slice()
	if err != nil {
		return nil, "", scriptError("redeem ticket", err)
	}
	if len(res) != 2 {
		return nil, "", fmt.Errorf("unexpected redeem reply: %v", res)
	}

	outcome, _ := res[0].(string)
	data, _ := res[1].(string)
	var ticket models.Ticket
	if err := json.Unmarshal([]byte(data), &ticket); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal redeemed ticket: %w", err)
	}
	return &ticket, RedeemOutcome(outcome), nil
}

// ---- games ----

func (s *RedisService) encodeGame(game *models.GameSession) ([]byte, error) {
	blob := game.Clone()
	// draws live in their own list
	blob.DrawnNumbers = nil
	blob.CurrentNumber = 0
	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal game session: %w", err)
	}
	return data, nil
}

func (s *RedisService) CreateGame(ctx context.Context, game *models.GameSession) error {
	data, err := s.encodeGame(game)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyGameSession, game.ID), data, TTLGameSession).Result()
	if err != nil {
		return fmt.Errorf("failed to save game session: %w", err)
	}
	if !ok {
		return conflictError("create game", "game %s already exists", game.ID)
	}
	if err := s.client.Set(ctx, fmt.Sprintf(KeyCashierGame, game.CashierID), game.ID, TTLGameSession).Err(); err != nil {
		return fmt.Errorf("failed to set current game: %w", err)
	}
	return nil
}

func (s *RedisService) GetGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	pipe := s.client.Pipeline()
	blobCmd := pipe.Get(ctx, fmt.Sprintf(KeyGameSession, gameID))
	drawsCmd := pipe.LRange(ctx, fmt.Sprintf(KeyGameDraws, gameID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}

	data, err := blobCmd.Result()
	if err == redis.Nil {
		return nil, notFoundError("get game", "game %s not found", gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}

	var game models.GameSession
	if err := json.Unmarshal([]byte(data), &game); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game session: %w", err)
	}
	if game.VerificationResults == nil {
		game.VerificationResults = make(map[int]*models.VerificationResult)
	}
	if game.PlacedCardIDs == nil {
		game.PlacedCardIDs = []int{}
	}

	raw, err := drawsCmd.Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get draws: %w", err)
	}
	game.DrawnNumbers = make([]int, 0, len(raw))
	for _, r := range raw {
		n, err := strconv.Atoi(r)
		if err != nil {
			return nil, fmt.Errorf("corrupt draw %q in game %s", r, gameID)
		}
		game.DrawnNumbers = append(game.DrawnNumbers, n)
	}
	if len(game.DrawnNumbers) > 0 {
		game.CurrentNumber = game.DrawnNumbers[len(game.DrawnNumbers)-1]
	}
	return &game, nil
}

func (s *RedisService) CurrentGame(ctx context.Context, cashierID string) (*models.GameSession, error) {
	gameID, err := s.client.Get(ctx, fmt.Sprintf(KeyCashierGame, cashierID)).Result()
	if err == redis.Nil {
		return nil, notFoundError("current game", "cashier %s has no game", cashierID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current game: %w", err)
	}
	return s.GetGame(ctx, gameID)
}

var updateGameScript = redis.NewScript(`
	local data = redis.call("GET", KEYS[1])
	if not data then
		return redis.error_reply("NOT_FOUND game")
	end
	local stored = cjson.decode(data)
	if redis.call("GET", KEYS[2]) ~= stored.id and stored.status ~= "completed" then
		return redis.error_reply("CONFLICT game " .. stored.id .. " is no longer the current game")
	end
	redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
	return "OK"
`)

func (s *RedisService) UpdateGame(ctx context.Context, game *models.GameSession) error {
	data, err := s.encodeGame(game)
	if err != nil {
		return err
	}
	keys := []string{
		fmt.Sprintf(KeyGameSession, game.ID),
		fmt.Sprintf(KeyCashierGame, game.CashierID),
	}
	if err := updateGameScript.Run(ctx, s.client, keys, data, int64(TTLGameSession.Seconds())).Err(); err != nil {
		return scriptError("update game", err)
	}
	return nil
}

var appendDrawScript = redis.NewScript(`
	local data = redis.call("GET", KEYS[1])
	if not data then
		return redis.error_reply("NOT_FOUND game")
	end
	local game = cjson.decode(data)
	if game.status ~= "active" then
		return redis.error_reply("CONFLICT game " .. game.id .. " is " .. game.status)
	end
	if redis.call("GET", KEYS[2]) ~= game.id then
		return redis.error_reply("CONFLICT game " .. game.id .. " is no longer current")
	end
	if redis.call("SADD", KEYS[4], ARGV[1]) == 0 then
		return redis.error_reply("CONFLICT number " .. ARGV[1] .. " already drawn")
	end
	redis.call("RPUSH", KEYS[3], ARGV[1])
	redis.call("EXPIRE", KEYS[3], ARGV[2])
	redis.call("EXPIRE", KEYS[4], ARGV[2])
	return redis.call("LLEN", KEYS[3])
`)

func (s *RedisService) AppendDraw(ctx context.Context, gameID string, number int) (*models.GameSession, error) {
	cashierID, err := s.gameCashier(ctx, gameID)
	if err != nil {
		return nil, err
	}
	keys := []string{
		fmt.Sprintf(KeyGameSession, gameID),
		fmt.Sprintf(KeyCashierGame, cashierID),
		fmt.Sprintf(KeyGameDraws, gameID),
		fmt.Sprintf(KeyGameDrawSet, gameID),
	}
	if err := appendDrawScript.Run(ctx, s.client, keys, number, int64(TTLGameSession.Seconds())).Err(); err != nil {
		return nil, scriptError("append draw", err)
	}
	return s.GetGame(ctx, gameID)
}

func (s *RedisService) gameCashier(ctx context.Context, gameID string) (string, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyGameSession, gameID)).Result()
	if err == redis.Nil {
		return "", notFoundError("get game", "game %s not found", gameID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get game session: %w", err)
	}
	var head struct {
		CashierID string `json:"cashier_id"`
	}
	if err := json.Unmarshal([]byte(data), &head); err != nil {
		return "", fmt.Errorf("failed to unmarshal game session: %w", err)
	}
	return head.CashierID, nil
}

func (s *RedisService) ClearDraws(ctx context.Context, gameID string) error {
	if err := s.client.Del(ctx,
		fmt.Sprintf(KeyGameDraws, gameID),
		fmt.Sprintf(KeyGameDrawSet, gameID),
	).Err(); err != nil {
		return fmt.Errorf("failed to clear draws: %w", err)
	}
	return nil
}

// ---- rate limiting ----

func (s *RedisService) CheckRateLimit(ctx context.Context, subject, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, subject, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

// DeleteGame removes a game with its draws, tickets and card slots. Used by tests and cleanup.
func (s *RedisService) DeleteGame(ctx context.Context, gameID string) error {
	tickets, err := s.ListTickets(ctx, gameID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	keys := []string{
		fmt.Sprintf(KeyGameSession, gameID),
		fmt.Sprintf(KeyGameTickets, gameID),
		fmt.Sprintf(KeyGameDraws, gameID),
		fmt.Sprintf(KeyGameDrawSet, gameID),
		fmt.Sprintf(KeyGamePayout, gameID),
	}
	for _, t := range tickets {
		keys = append(keys,
			fmt.Sprintf(KeyTicket, t.TicketNumber),
			fmt.Sprintf(KeyGameCard, gameID, t.CardID))
	}
	return s.client.Del(ctx, keys...).Err()
}
