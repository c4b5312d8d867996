package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Listen mantiene un LISTEN sobre channel y entrega cada payload a fn.
// Reconecta ante errores hasta que ctx se cancele.
func Listen(ctx context.Context, pool *pgxpool.Pool, channel string, logger *zap.Logger, fn func(payload string)) {
	for {
		err := listenOnce(ctx, pool, channel, fn)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("pg listener stopped, retrying", zap.String("channel", channel), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func listenOnce(ctx context.Context, pool *pgxpool.Pool, channel string, fn func(payload string)) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n == nil {
			return errors.New("nil notification")
		}
		fn(n.Payload)
	}
}
