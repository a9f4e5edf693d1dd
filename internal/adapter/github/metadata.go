package github

import (
	"context"
	"encoding/json"
	"path"

	"portfolio-bff/internal/domain"

	"go.uber.org/zap"
)

// 仓库里约定的元数据文件
const (
	ContextFile  = ".repo-context.json"
	ManifestFile = "PROJECT-MANIFEST.md"
	SkillsFile   = "SKILLS-INDEX.md"
)

// MetadataExtractor 实现了 port.MetadataExtractor 接口
type MetadataExtractor struct {
	client      *Client
	logger      *zap.Logger
	scanSubdirs bool
}

// NewMetadataExtractor scanSubdirs 为 true 时会额外扫描一级子目录里的 PROJECT-MANIFEST.md
func NewMetadataExtractor(client *Client, logger *zap.Logger, scanSubdirs bool) *MetadataExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataExtractor{client: client, logger: logger, scanSubdirs: scanSubdirs}
}

// ExtractMetadata 读取三个约定文件。每个文件独立获取，一个失败不影响其他。
func (m *MetadataExtractor) ExtractMetadata(ctx context.Context, owner, repo string) domain.AuxMetadata {
	var meta domain.AuxMetadata
	log := m.logger.With(zap.String("repo", owner+"/"+repo))

	if text, ok := m.fetch(ctx, log, owner, repo, ContextFile); ok {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil || parsed == nil {
			log.Warn("invalid JSON in context file", zap.String("file", ContextFile), zap.Error(err))
		} else {
			meta.Context = parsed
			// Unmarshal 成功说明是合法对象，这里只取顺序
			meta.ContextKeys, _ = objectKeys([]byte(text))
		}
	}

	if text, ok := m.fetch(ctx, log, owner, repo, ManifestFile); ok {
		meta.Manifest = &text
	}

	if text, ok := m.fetch(ctx, log, owner, repo, SkillsFile); ok {
		meta.Skills = &text
	}

	if m.scanSubdirs {
		meta.Manifests = m.subdirManifests(ctx, log, owner, repo)
	}

	log.Debug("metadata extracted", zap.Int("files", meta.FileCount()))
	return meta
}

func (m *MetadataExtractor) fetch(ctx context.Context, log *zap.Logger, owner, repo, file string) (string, bool) {
	text, found, err := m.client.GetFileContent(ctx, owner, repo, file)
	if err != nil {
		log.Warn("failed to fetch metadata file", zap.String("file", file), zap.Error(err))
		return "", false
	}
	return text, found
}

// subdirManifests 尽力而为，任何错误都只记录日志
func (m *MetadataExtractor) subdirManifests(ctx context.Context, log *zap.Logger, owner, repo string) map[string]string {
	entries, err := m.client.ListContents(ctx, owner, repo, "")
	if err != nil {
		log.Debug("cannot list repository root", zap.Error(err))
		return nil
	}

	var manifests map[string]string
	for _, entry := range entries {
		if entry.GetType() != "dir" {
			continue
		}
		dir := entry.GetName()
		if text, ok := m.fetch(ctx, log, owner, repo, path.Join(dir, ManifestFile)); ok {
			if manifests == nil {
				manifests = make(map[string]string)
			}
			manifests[dir] = text
		}
	}
	return manifests
}
