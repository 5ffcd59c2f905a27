package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/agx/internal/models"
)

var _ list.Item = accountItem{}

// accountItem wraps [models.Account] to implement [list.Item].
type accountItem struct {
	account models.Account
	current bool
}

func (i accountItem) FilterValue() string { return i.account.Email }

func (i accountItem) Title() string {
	if i.current {
		return "★ " + i.account.Label()
	}
	return i.account.Label()
}

func (i accountItem) Description() string {
	desc := i.account.StatusText()
	if low := i.account.Quota.Lowest(); low >= 0 {
		desc = fmt.Sprintf("%s • lowest quota %d%%", desc, low)
	}
	if i.account.ProxyDisabledReason != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.account.ProxyDisabledReason)
	}
	return desc
}

func accountItems(accounts []models.Account, current string) []list.Item {
	items := make([]list.Item, len(accounts))
	for i, a := range accounts {
		items[i] = accountItem{account: a, current: a.ID == current}
	}
	return items
}
