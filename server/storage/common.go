package storage

import (
	"net/url"
	"strconv"
	"time"

	"github.com/ije/gox/utils"
)

func parseConfigUrl(configUrl string) (root string, options url.Values, err error) {
	root, query := utils.SplitByFirstByte(configUrl, '?')
	options = url.Values{}
	if query != "" {
		options, err = url.ParseQuery(query)
		if err != nil {
			return root, nil, err
		}
	}
	return root, options, nil
}

func parseDurationValue(str string, defaultValue time.Duration) (time.Duration, error) {
	if str != "" {
		return time.ParseDuration(str)
	}
	return defaultValue, nil
}

func parseInt64Value(str string, defaultValue int64) (int64, error) {
	if str != "" {
		return strconv.ParseInt(str, 10, 64)
	}
	return defaultValue, nil
}
