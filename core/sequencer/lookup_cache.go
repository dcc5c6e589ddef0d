package sequencer

import (
	"sort"
	"sync"

	"github.com/ecousins25/ogmash-v2/model"
)

// LookupCache 缓存按流派/版本筛选曲目的结果。
// 显式持有、显式失效：播放列表成员变化时必须调用 Invalidate。
type LookupCache struct {
	mu    sync.RWMutex
	songs []model.Song

	byID     map[string]model.Song
	byGenre  map[string][]model.Song
	genreSet []string
}

// NewLookupCache 创建空缓存
func NewLookupCache() *LookupCache {
	return &LookupCache{}
}

// Update 替换底层曲目集并使所有记忆化结果失效
func (c *LookupCache) Update(songs []model.Song) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.songs = make([]model.Song, len(songs))
	copy(c.songs, songs)
	c.invalidateLocked()
}

// Invalidate 清空记忆化结果，下次查询时重建
func (c *LookupCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *LookupCache) invalidateLocked() {
	c.byID = nil
	c.byGenre = nil
	c.genreSet = nil
}

// ByID 按ID查找曲目
func (c *LookupCache) ByID(id string) (model.Song, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byID == nil {
		c.byID = make(map[string]model.Song, len(c.songs))
		for _, song := range c.songs {
			c.byID[song.ID] = song
		}
	}

	song, ok := c.byID[id]
	return song, ok
}

// ByGenre 返回指定流派的全部曲目
func (c *LookupCache) ByGenre(genre string) []model.Song {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buildGenreIndexLocked()
	return c.byGenre[genre]
}

// Genres 返回所有出现过的流派，按字典序
func (c *LookupCache) Genres() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buildGenreIndexLocked()
	return c.genreSet
}

func (c *LookupCache) buildGenreIndexLocked() {
	if c.byGenre != nil {
		return
	}

	c.byGenre = make(map[string][]model.Song)
	for _, song := range c.songs {
		c.byGenre[song.Genre] = append(c.byGenre[song.Genre], song)
	}

	c.genreSet = make([]string, 0, len(c.byGenre))
	for genre := range c.byGenre {
		c.genreSet = append(c.genreSet, genre)
	}
	sort.Strings(c.genreSet)
}
