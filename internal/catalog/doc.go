// Package catalog fetches the channel playlist and turns its entries into the fixed set of
// channels the scanner resolves.
//
// Playlists are extended M3U: an #EXTM3U header, then one #EXTINF line per entry carrying the
// duration, key="value" attributes and the display name, followed by the entry URI.
//
//	#EXTM3U
//	#EXTINF:-1 tvg-id="news.one" group-title="News",News One
//	http://s07.cdn.example.tv/live/news1/index.m3u8
package catalog
