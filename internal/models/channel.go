package models

import (
	"fmt"
	"strconv"
	"strings"
)

const NumChannels = 7

type Channel int

const (
	Ch1 Channel = iota
	Ch2
	Ch3
	Ch4
	Ch5
	Ch6
	Ch7
)

func AllChannels() []Channel {
	channels := make([]Channel, NumChannels)
	for i := range NumChannels {
		channels[i] = Channel(i)
	}
	return channels
}

func (c Channel) Valid() bool {
	return c >= Ch1 && c <= Ch7
}

// Number - номер канала, начиная с 1
func (c Channel) Number() int {
	return int(c) + 1
}

func (c Channel) Key() string {
	return "ch" + strconv.Itoa(c.Number())
}

func (c Channel) String() string {
	return c.Key()
}

// ParseChannel принимает "ch3", "CH3" или "3".
func ParseChannel(s string) (Channel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "ch")

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > NumChannels {
		return 0, fmt.Errorf("unknown channel %q", s)
	}
	return Channel(n - 1), nil
}
