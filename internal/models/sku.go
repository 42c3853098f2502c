package models

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	skuNodeOnce sync.Once
	skuNode     *snowflake.Node
)

// NewSKU returns OG-{CATEGORY}-{FRAGMENT}-{id}, upper-cased. The suffix is a
// snowflake id so two records created in the same millisecond never collide.
func NewSKU(category Category, fragment string) string {
	skuNodeOnce.Do(func() {
		node, err := snowflake.NewNode(1)
		if err != nil {
			panic(fmt.Sprintf("snowflake node: %v", err))
		}
		skuNode = node
	})
	return strings.ToUpper(fmt.Sprintf("OG-%s-%s-%s", category, fragment, skuNode.Generate().String()))
}
