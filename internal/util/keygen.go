package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// 密钥随机段字符集,大写字母+数字
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	keyGroups    = 5
	keyGroupSize = 4
)

var keyPattern = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]{4}){5}$`)

// GenerateKey 生成格式为 PREFIX-XXXX-XXXX-XXXX-XXXX-XXXX 的许可证密钥。
// 20 个随机字符取自 36 字符集,约 103 bit 熵,实际上不会碰撞;
// 入库时如仍遇到重复由调用方换新密钥重试。
func GenerateKey(prefix string) (string, error) {
	groups := make([]string, 0, keyGroups+1)
	groups = append(groups, strings.ToUpper(prefix))
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < keyGroups; i++ {
		var sb strings.Builder
		for j := 0; j < keyGroupSize; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("读取随机源失败: %w", err)
			}
			sb.WriteByte(keyAlphabet[n.Int64()])
		}
		groups = append(groups, sb.String())
	}
	return strings.Join(groups, "-"), nil
}

// ValidKeyFormat 校验密钥格式,仅做格式检查不查库
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}
