package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check
var _ Store = (*Postgres)(nil)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO messages (
			external_id, source_addr, destination_addr, short_message,
			message_type, status, service_id, number_id, provider_msg_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING id, created_at
	`,
		params.ExternalID,
		params.SourceAddr,
		params.DestinationAddr,
		params.ShortMessage,
		params.MessageType,
		params.Status,
		params.ServiceID,
		params.NumberID,
		params.ProviderMsgID,
	)

	msg := Message{
		ExternalID:      params.ExternalID,
		SourceAddr:      params.SourceAddr,
		DestinationAddr: params.DestinationAddr,
		ShortMessage:    params.ShortMessage,
		MessageType:     params.MessageType,
		Status:          params.Status,
		ServiceID:       params.ServiceID,
		NumberID:        params.NumberID,
		ProviderMsgID:   params.ProviderMsgID,
	}
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return Message{}, err
	}
	return msg, nil
}

const messageColumns = `
	id, external_id, source_addr, destination_addr, short_message,
	message_type, status, service_id, number_id, provider_msg_id,
	created_at, processed_at
`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.ExternalID,
		&m.SourceAddr,
		&m.DestinationAddr,
		&m.ShortMessage,
		&m.MessageType,
		&m.Status,
		&m.ServiceID,
		&m.NumberID,
		&m.ProviderMsgID,
		&m.CreatedAt,
		&m.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (p *Postgres) GetMessage(ctx context.Context, id int64) (Message, error) {
	return scanMessage(p.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = $1
	`, id))
}

func (p *Postgres) GetMessageByProviderID(ctx context.Context, providerMsgID string) (Message, error) {
	return scanMessage(p.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE provider_msg_id = $1
		ORDER BY id DESC LIMIT 1
	`, providerMsgID))
}

// SetClassification is the idempotency claim of the classification stage:
// the conditional write makes re-processing an already-classified message a
// no-op instead of a second assignment.
func (p *Postgres) SetClassification(ctx context.Context, id int64, serviceID *int64, status string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE messages
		SET service_id = $2, status = $3, processed_at = now()
		WHERE id = $1 AND service_id IS NULL AND status NOT IN ('classified', 'unclassified')
	`, id, serviceID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) UpdateMessageStatus(ctx context.Context, id int64, status string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE messages SET status = $2, processed_at = now() WHERE id = $1
	`, id, status)
	return err
}

func (p *Postgres) MarkMessageSent(ctx context.Context, id int64, providerMsgID string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'sent', provider_msg_id = $2, processed_at = now()
		WHERE id = $1
	`, id, providerMsgID)
	return err
}

// ListActiveServices returns the active signature set ordered by id. The
// classifier treats this order as the explicit priority list.
func (p *Postgres) ListActiveServices(ctx context.Context) ([]Service, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, regex_pattern, is_active
		FROM services
		WHERE is_active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.Name, &s.RegexPattern, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetServiceName(ctx context.Context, id int64) (string, error) {
	var name string
	err := p.pool.QueryRow(ctx, `SELECT name FROM services WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}

func (p *Postgres) GetNumberOwner(ctx context.Context, destinationAddr string) (NumberOwner, error) {
	var o NumberOwner
	err := p.pool.QueryRow(ctx, `
		SELECT n.id, n.number, n.client_id, n.is_active,
		       c.id, c.name, c.api_key, c.webhook_url, c.webhook_secret, c.is_active
		FROM numbers n
		JOIN clients c ON c.id = n.client_id
		WHERE n.number = $1 AND n.is_active = true
		LIMIT 1
	`, destinationAddr).Scan(
		&o.Number.ID,
		&o.Number.Number,
		&o.Number.ClientID,
		&o.Number.IsActive,
		&o.Client.ID,
		&o.Client.Name,
		&o.Client.APIKey,
		&o.Client.WebhookURL,
		&o.Client.WebhookSecret,
		&o.Client.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return NumberOwner{}, ErrNotFound
	}
	return o, err
}

func (p *Postgres) ListActiveClients(ctx context.Context) ([]Client, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, api_key, webhook_url, webhook_secret, is_active
		FROM clients
		WHERE is_active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.APIKey, &c.WebhookURL, &c.WebhookSecret, &c.IsActive); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) GetClientByAPIKey(ctx context.Context, apiKey string) (Client, error) {
	var c Client
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, api_key, webhook_url, webhook_secret, is_active
		FROM clients
		WHERE api_key = $1 AND is_active = true
	`, apiKey).Scan(&c.ID, &c.Name, &c.APIKey, &c.WebhookURL, &c.WebhookSecret, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) CreateDeliveryAttempt(ctx context.Context, params CreateDeliveryAttemptParams) (DeliveryAttempt, error) {
	var sentAt *time.Time
	if params.Sent {
		now := time.Now().UTC()
		sentAt = &now
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO delivery_attempts (
			message_id, client_id, webhook_url, status, response, attempt, created_at, sent_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
		RETURNING id, created_at
	`,
		params.MessageID,
		params.ClientID,
		params.WebhookURL,
		params.Status,
		params.Response,
		params.Attempt,
		sentAt,
	)

	a := DeliveryAttempt{
		MessageID:  params.MessageID,
		ClientID:   params.ClientID,
		WebhookURL: params.WebhookURL,
		Status:     params.Status,
		Response:   params.Response,
		Attempt:    params.Attempt,
		SentAt:     sentAt,
	}
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return DeliveryAttempt{}, err
	}
	return a, nil
}

func (p *Postgres) GetActiveSMSCConfig(ctx context.Context) (SMSCConfig, error) {
	var c SMSCConfig
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, host, port, username, password, system_type, is_active
		FROM smsc_configs
		WHERE is_active = true
		ORDER BY id ASC
		LIMIT 1
	`).Scan(&c.ID, &c.Name, &c.Host, &c.Port, &c.Username, &c.Password, &c.SystemType, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return SMSCConfig{}, ErrNotFound
	}
	return c, err
}
