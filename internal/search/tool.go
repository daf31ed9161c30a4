package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/aline-bot/internal/tools"
)

// Tool returns the web_search tool backed by mgr.
func Tool(mgr *Manager) *tools.Tool {
	return &tools.Tool{
		Name:        "web_search",
		Description: "다른 도구로 답할 수 없는 질문을 웹에서 검색합니다.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "검색어",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "최대 결과 수 (1-10, 기본 5)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query := strings.TrimSpace(tools.StringArg(args, "query"))
			if query == "" {
				return "", fmt.Errorf("web_search: query is required")
			}
			opts := Options{Language: "ko"}
			if n, ok := tools.IntArg(args, "count"); ok && n > 0 {
				opts.Count = min(n, 10)
			}

			results, err := mgr.Search(ctx, query, opts)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "검색 결과가 없습니다.", nil
			}
			out, err := json.Marshal(results)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}
