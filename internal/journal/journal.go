// Package journal persists scanned devices and capture sessions in sqlite.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/Hara602/usbCapture/internal/model"
)

// 时间统一存为 unix 毫秒
var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		vendor_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		vendor_name TEXT,
		product_name TEXT,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		seen_count INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		vendor_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		stopped_at INTEGER,
		start_packets INTEGER NOT NULL,
		start_bytes_received INTEGER NOT NULL,
		start_bytes_sent INTEGER NOT NULL,
		end_packets INTEGER,
		end_bytes_received INTEGER,
		end_bytes_sent INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions(started_at)`,
}

type Journal struct {
	db *sql.DB
}

// DeviceRecord 设备出现记录
type DeviceRecord struct {
	model.DeviceDescriptor
	FirstSeen time.Time
	LastSeen  time.Time
	SeenCount int
}

// SessionRecord 一次 start/stop. 计数器是全局累计值, 本次运行的增量为 End - Start
type SessionRecord struct {
	ID        string
	VendorID  uint16
	ProductID uint16
	StartedAt time.Time
	StoppedAt *time.Time
	Start     model.Stats
	End       *model.Stats
}

// Packets returns the packets produced during this run, if it has ended.
func (r SessionRecord) Packets() uint64 {
	if r.End == nil {
		return 0
	}
	return r.End.PacketCounter - r.Start.PacketCounter
}

// Open 打开数据库并初始化表结构
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to create table")
		}
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordDevices 记录一次扫描结果, 已存在的设备更新 last_seen 和 seen_count
func (j *Journal) RecordDevices(ctx context.Context, devices []model.DeviceDescriptor, at time.Time) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO devices (device_id, vendor_id, product_id, vendor_name, product_name, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			seen_count = devices.seen_count + 1`)
	if err != nil {
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	ms := at.UnixMilli()
	for _, d := range devices {
		if _, err := stmt.ExecContext(ctx, d.DeviceID, d.VendorID, d.ProductID, d.VendorName, d.ProductName, ms, ms); err != nil {
			return errors.Wrapf(err, "record device %s", d.DeviceID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Devices 按最近出现时间排序
func (j *Journal) Devices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT device_id, vendor_id, product_id, vendor_name, product_name, first_seen, last_seen, seen_count
		FROM devices ORDER BY last_seen DESC, device_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query devices")
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var (
			r           DeviceRecord
			first, last int64
		)
		if err := rows.Scan(&r.DeviceID, &r.VendorID, &r.ProductID, &r.VendorName, &r.ProductName, &first, &last, &r.SeenCount); err != nil {
			return nil, errors.Wrap(err, "scan device")
		}
		r.FirstSeen = time.UnixMilli(first)
		r.LastSeen = time.UnixMilli(last)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionStarted 新建会话记录, 返回会话 ID
func (j *Journal) SessionStarted(ctx context.Context, vendorID, productID uint16, start model.Stats, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, vendor_id, product_id, started_at, start_packets, start_bytes_received, start_bytes_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, vendorID, productID, at.UnixMilli(),
		int64(start.PacketCounter), int64(start.BytesReceived), int64(start.BytesSent))
	if err != nil {
		return "", errors.Wrap(err, "insert session")
	}
	return id, nil
}

// SessionStopped 关闭所有未结束的会话
func (j *Journal) SessionStopped(ctx context.Context, end model.Stats, at time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
		UPDATE sessions SET stopped_at = ?, end_packets = ?, end_bytes_received = ?, end_bytes_sent = ?
		WHERE stopped_at IS NULL`,
		at.UnixMilli(), int64(end.PacketCounter), int64(end.BytesReceived), int64(end.BytesSent))
	if err != nil {
		return 0, errors.Wrap(err, "close sessions")
	}
	return res.RowsAffected()
}

// Sessions 最近的会话, limit <= 0 表示全部
func (j *Journal) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, vendor_id, product_id, started_at, stopped_at,
			start_packets, start_bytes_received, start_bytes_sent,
			end_packets, end_bytes_received, end_bytes_sent
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r                         SessionRecord
			started                   int64
			stopped                   sql.NullInt64
			startPk, startRx, startTx int64
			endPk, endRx, endTx       sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.VendorID, &r.ProductID, &started, &stopped,
			&startPk, &startRx, &startTx, &endPk, &endRx, &endTx); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		r.StartedAt = time.UnixMilli(started)
		r.Start = model.Stats{PacketCounter: uint64(startPk), BytesReceived: uint64(startRx), BytesSent: uint64(startTx)}
		if stopped.Valid {
			t := time.UnixMilli(stopped.Int64)
			r.StoppedAt = &t
			r.End = &model.Stats{
				PacketCounter: uint64(endPk.Int64),
				BytesReceived: uint64(endRx.Int64),
				BytesSent:     uint64(endTx.Int64),
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
