// Package idgen 实体ID与单据编号生成
package idgen

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init 设置雪花节点号（0-1023），进程启动时调用一次
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("failed to init snowflake node: %w", err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

func current() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()
	if node == nil {
		node, _ = snowflake.NewNode(1)
	}
	return node
}

// NewID 实体主键
func NewID() string {
	return uuid.New().String()
}

// Code 单据编号：PREFIX-YYYYMMDD-<base36>
func Code(prefix string, at time.Time) string {
	id := current().Generate()
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), strings.ToUpper(id.Base36()))
}
