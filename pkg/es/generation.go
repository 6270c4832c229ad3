package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"querytube-go/pkg/log"
	"querytube-go/pkg/vectorindex"
)

// Builder 为每次重建创建独立的索引，写完后把别名原子地切换过去。
type Builder struct {
	client *elasticsearch.Client
	alias  string
}

// NewBuilder 创建 Builder，alias 是线上检索使用的别名。
func NewBuilder(client *elasticsearch.Client, alias string) *Builder {
	return &Builder{client: client, alias: alias}
}

// NewGeneration 创建名为 name 的新索引。
func (b *Builder) NewGeneration(ctx context.Context, name string, dims int) (vectorindex.Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dims)
	}
	if err := createIndex(ctx, b.client, name, dims); err != nil {
		return nil, err
	}
	return NewVectorIndex(b.client, name), nil
}

// Activate 把别名从旧索引移到 name，两步在同一个 _aliases 请求里完成。
func (b *Builder) Activate(ctx context.Context, name string) error {
	current, err := b.AliasTargets(ctx)
	if err != nil {
		return err
	}
	actions := make([]map[string]interface{}, 0, len(current)+1)
	for _, idx := range current {
		if idx == name {
			continue
		}
		actions = append(actions, map[string]interface{}{
			"remove": map[string]interface{}{"index": idx, "alias": b.alias},
		})
	}
	actions = append(actions, map[string]interface{}{
		"add": map[string]interface{}{"index": name, "alias": b.alias},
	})

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]interface{}{"actions": actions}); err != nil {
		return err
	}
	res, err := b.client.Indices.UpdateAliases(&buf, b.client.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("切换别名失败: %w", err)
	}
	if err := decodeResponse(res, nil); err != nil {
		return fmt.Errorf("切换别名失败: %w", err)
	}
	log.Infof("[ESIndex] 别名 '%s' 已切换到索引 '%s', 旧索引: %v", b.alias, name, current)
	return nil
}

// AliasTargets 返回别名当前指向的索引，别名不存在时返回空。
func (b *Builder) AliasTargets(ctx context.Context) ([]string, error) {
	res, err := b.client.Indices.GetAlias(
		b.client.Indices.GetAlias.WithContext(ctx),
		b.client.Indices.GetAlias.WithName(b.alias),
	)
	if err != nil {
		return nil, fmt.Errorf("查询别名失败: %w", err)
	}
	var out map[string]interface{}
	if err := decodeResponse(res, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(out))
	for idx := range out {
		names = append(names, idx)
	}
	return names, nil
}

// EnsureAlias 在别名不存在时创建一个空索引并挂上别名，保证服务启动后可以正常查询。
func (b *Builder) EnsureAlias(ctx context.Context, initialIndex string, dims int) error {
	targets, err := b.AliasTargets(ctx)
	if err != nil {
		return err
	}
	if len(targets) > 0 {
		return nil
	}
	log.Infof("[ESIndex] 别名 '%s' 不存在，创建初始索引 '%s'", b.alias, initialIndex)
	if _, err := b.NewGeneration(ctx, initialIndex, dims); err != nil {
		return err
	}
	return b.Activate(ctx, initialIndex)
}
