package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"portfolio-bff/internal/adapter/github"
	"portfolio-bff/internal/adapter/readme"
	"portfolio-bff/internal/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	repo := flag.String("repo", "", "要检查的仓库名 (默认取最近更新的一个)")
	scan := flag.Bool("subdirs", true, "是否扫描子目录的 PROJECT-MANIFEST.md")
	flag.Parse()

	cfg, err := config.Load(viper.New())
	if err != nil {
		log.Fatalf("❌ 配置加载失败: %v", err)
	}
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// 调试时不走缓存，每次都直接请求 GitHub
	exec, err := github.NewExecutor(cfg.GitHub.Token,
		github.WithBaseURL(cfg.GitHub.BaseURL),
		github.WithTimeout(cfg.GitHub.Timeout),
		github.WithExecutorLogger(logger),
	)
	if err != nil {
		log.Fatalf("❌ GitHub 客户端初始化失败: %v", err)
	}
	client := github.NewClient(exec)
	username := cfg.GitHub.Username

	fmt.Println("🔍 调试模式：检查 GitHub 配额和仓库元数据")

	// 1. 配额
	status, err := client.RateLimit(ctx)
	if err != nil {
		log.Printf("⚠️ 获取配额失败: %v", err)
	} else {
		fmt.Printf("📊 配额: %d/%d，重置时间 %s\n", status.Remaining, status.Limit, status.Reset.Format(time.RFC3339))
	}

	// 2. 选一个仓库
	name := *repo
	if name == "" {
		repos, err := client.ListUserRepos(ctx, username, 1, 10)
		if err != nil {
			log.Printf("❌ 获取仓库列表失败: %v", err)
			return
		}
		if len(repos) == 0 {
			fmt.Printf("❌ %s 没有任何仓库\n", username)
			return
		}
		fmt.Printf("✅ 最近更新的 %d 个仓库:\n", len(repos))
		for i, r := range repos {
			fmt.Printf("  %d. %s (fork=%v, ⭐ %d)\n", i+1, r.FullName, r.IsFork, r.Stars)
		}
		name = repos[0].Name
	}
	fmt.Printf("\n📦 检查 %s/%s\n", username, name)

	// 3. 语言和 README 段落
	langs, err := client.GetLanguages(ctx, username, name)
	if err != nil {
		log.Printf("⚠️ 获取语言失败: %v", err)
	}
	fmt.Printf("  语言: %v\n", langs)

	text, err := client.GetReadme(ctx, username, name)
	if err != nil {
		log.Printf("⚠️ 获取 README 失败: %v", err)
	}
	sections := readme.ExtractSections(text)
	fmt.Printf("  README %d 字符，识别到 %d 个段落\n", len([]rune(text)), len(sections))
	for _, key := range readme.SectionKeys() {
		if body, ok := sections[key]; ok {
			fmt.Printf("    - %s (%d 字符)\n", key, len([]rune(body)))
		}
	}

	// 4. 元数据文件
	meta := github.NewMetadataExtractor(client, logger, *scan).ExtractMetadata(ctx, username, name)
	fmt.Printf("  元数据文件: %d 个\n", meta.FileCount())
	if meta.Context != nil {
		out, _ := json.MarshalIndent(meta.Context, "    ", "  ")
		fmt.Printf("    %s:\n    %s\n", github.ContextFile, out)
	}
	if meta.Manifest != nil {
		fmt.Printf("    %s: %d 字符\n", github.ManifestFile, len([]rune(*meta.Manifest)))
	}
	if meta.Skills != nil {
		fmt.Printf("    %s: %d 字符\n", github.SkillsFile, len([]rune(*meta.Skills)))
	}
	dirs := make([]string, 0, len(meta.Manifests))
	for dir := range meta.Manifests {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		fmt.Printf("    %s/%s: %d 字符\n", dir, github.ManifestFile, len([]rune(meta.Manifests[dir])))
	}

	if !exec.HasToken() {
		fmt.Fprintln(os.Stderr, "\n⚠️ 未设置 GITHUB_TOKEN，匿名请求每小时只有 60 次配额")
	}
}
