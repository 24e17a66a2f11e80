// Package utils 支付相关的工具函数
package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	once sync.Once
	node *snowflake.Node
)

// SetupNode 设置雪花算法节点号，多实例部署时每个实例应使用不同的节点号
func SetupNode(id int64) error {
	n, err := snowflake.NewNode(id)
	if err != nil {
		return err
	}
	node = n
	once.Do(func() {})
	return nil
}

func getNode() *snowflake.Node {
	once.Do(func() {
		// 未显式设置时，根据主机名推导节点号
		host, _ := os.Hostname()
		h := fnv.New32a()
		_, _ = h.Write([]byte(host))
		n, err := snowflake.NewNode(int64(h.Sum32() % 1024))
		if err != nil {
			panic(err)
		}
		node = n
	})
	return node
}

// GenerateOrderNo 生成订单号
func GenerateOrderNo() string {
	return "ORD" + getNode().Generate().String()
}

// GenerateReceiptNo 生成收据号
func GenerateReceiptNo() string {
	return "RCPT" + getNode().Generate().String()
}

// HmacSHA256Hex 计算十六进制的 HMAC-SHA256
func HmacSHA256Hex(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// HmacEqual 常量时间比较两个十六进制签名
func HmacEqual(expected, actual string) bool {
	if expected == "" || actual == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(actual))
}
