package form

import (
	"fmt"
	"sort"
	"strings"

	"github.com/a3tai/rat-autofill/internal/locator"
)

// Rule set keys, as used in configuration overrides.
const (
	RuleUsername       = "username"
	RulePassword       = "password"
	RuleLoginButton    = "login_button"
	RuleAgree          = "agree"
	RuleAlreadyFilled  = "already_filled"
	RuleSendButton     = "send_button"
	RuleUpdateControl  = "update_control"
	RuleAnswerField    = "answer_field"
	RuleAnswerFallback = "answer_fallback"
	RuleSubmit         = "submit"
	RuleLogout         = "logout"
)

// Rules holds the ranked locator list of every form step. AnswerField
// patterns may use the {label} and {name} placeholders, where name is the
// label lower-cased with spaces replaced by underscores.
type Rules struct {
	Username       locator.Ranked
	Password       locator.Ranked
	LoginButton    locator.Ranked
	Agree          locator.Ranked
	AlreadyFilled  locator.Ranked
	SendButton     locator.Ranked
	UpdateControl  locator.Ranked
	AnswerField    locator.Ranked
	AnswerFallback locator.Ranked
	Submit         locator.Ranked
	Logout         locator.Ranked
}

func byCSS(p string) locator.Locator   { return locator.Locator{By: locator.ByCSS, Pattern: p} }
func byXPath(p string) locator.Locator { return locator.Locator{By: locator.ByXPath, Pattern: p} }
func byName(p string) locator.Locator  { return locator.Locator{By: locator.ByName, Pattern: p} }
func byID(p string) locator.Locator    { return locator.Locator{By: locator.ByID, Pattern: p} }

// DefaultRules returns the rule sets for the RAT Online questionnaire.
func DefaultRules() Rules {
	return Rules{
		Username: locator.Ranked{
			byName("username"),
			byName("Username"),
			byID("username"),
			byID("Username"),
			byCSS("input[type='text']"),
			byCSS("input[placeholder*='username' i]"),
		},
		Password: locator.Ranked{
			byName("password"),
			byName("Password"),
			byID("password"),
			byID("Password"),
			byCSS("input[type='password']"),
		},
		LoginButton: locator.Ranked{
			byCSS("button[type='submit']"),
			byCSS("input[type='submit']"),
			byXPath("//button[contains(text(), 'Login')]"),
			byXPath("//button[contains(text(), 'login')]"),
			byXPath("//button[contains(text(), 'Masuk')]"),
			byXPath("//input[@value='Login']"),
			byCSS(".btn-login"),
			byCSS(".login-btn"),
		},
		Agree: locator.Ranked{
			byXPath("//input[@type='radio'][following-sibling::text()[contains(., 'Setuju')] or @value='Setuju' or @value='setuju']"),
			byXPath("//input[@type='radio'][@value='Setuju']"),
			byXPath("//input[@type='radio'][@value='setuju']"),
			byXPath("//input[@type='radio'][@value='1']"),
			byXPath("//label[contains(text(), 'Setuju')]/input[@type='radio']"),
			byXPath("//label[contains(text(), 'Setuju')]/preceding-sibling::input[@type='radio']"),
			byCSS("input[type='radio'][value='Setuju']"),
			byCSS("input[type='radio'][value='setuju']"),
			byXPath("//input[@type='radio'][contains(translate(string(..), 'SETUJ', 'setuj'), 'setuju') and not(contains(translate(string(..), 'TIDAK', 'tidak'), 'tidak'))]"),
		},
		AlreadyFilled: locator.Ranked{
			byXPath("//button[contains(text(), 'Perbarui Tanggapan')]"),
			byXPath("//a[contains(text(), 'Perbarui Tanggapan')]"),
			byXPath("//button[contains(text(), 'Perbarui')]"),
			byXPath("//*[contains(text(), 'Berikut tanggapan anda')]"),
			byXPath("//*[contains(text(), 'tanggapan anda')]"),
			byXPath("//table//td[contains(text(), 'Setuju') and not(contains(text(), 'Tidak'))]"),
		},
		SendButton: locator.Ranked{
			byXPath("//button[contains(text(), 'Kirim')]"),
		},
		UpdateControl: locator.Ranked{
			byXPath("//*[contains(text(), 'Perbarui')]"),
		},
		AnswerField: locator.Ranked{
			byXPath("//label[contains(text(), '{label}')]/following-sibling::input"),
			byXPath("//label[contains(text(), '{label}')]/following-sibling::textarea"),
			byXPath("//td[contains(text(), '{label}')]/following-sibling::td//input"),
			byXPath("//td[contains(text(), '{label}')]/following-sibling::td//textarea"),
			byXPath("//tr[contains(., '{label}')]//input"),
			byXPath("//tr[contains(., '{label}')]//textarea"),
			byCSS("input[placeholder*='{label}']"),
			byCSS("textarea[placeholder*='{label}']"),
			byCSS("input[name*='{name}']"),
			byCSS("textarea[name*='{name}']"),
		},
		AnswerFallback: locator.Ranked{
			byCSS("table input[type='text'], table textarea"),
		},
		Submit: locator.Ranked{
			byXPath("//button[contains(text(), 'Kirim')]"),
			byXPath("//input[@value='Kirim']"),
			byXPath("//button[contains(text(), 'Submit')]"),
			byCSS("button[type='submit']"),
			byCSS("input[type='submit']"),
			byCSS(".btn-submit"),
			byCSS(".btn-kirim"),
		},
		Logout: locator.Ranked{
			byXPath("//a[contains(text(), 'Logout')]"),
			byXPath("//a[contains(text(), 'logout')]"),
			byXPath("//a[contains(text(), 'Keluar')]"),
			byXPath("//button[contains(text(), 'Logout')]"),
			byXPath("//button[contains(text(), 'Keluar')]"),
			byCSS("a[href*='logout']"),
			byCSS(".logout"),
			byCSS(".btn-logout"),
		},
	}
}

func (r *Rules) byKey() map[string]*locator.Ranked {
	return map[string]*locator.Ranked{
		RuleUsername:       &r.Username,
		RulePassword:       &r.Password,
		RuleLoginButton:    &r.LoginButton,
		RuleAgree:          &r.Agree,
		RuleAlreadyFilled:  &r.AlreadyFilled,
		RuleSendButton:     &r.SendButton,
		RuleUpdateControl:  &r.UpdateControl,
		RuleAnswerField:    &r.AnswerField,
		RuleAnswerFallback: &r.AnswerFallback,
		RuleSubmit:         &r.Submit,
		RuleLogout:         &r.Logout,
	}
}

// WithOverrides returns a copy of r where every rule set named in overrides
// is replaced. Unknown keys and invalid lists are rejected.
func (r Rules) WithOverrides(overrides map[string]locator.Ranked) (Rules, error) {
	out := r
	slots := out.byKey()

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		slot, ok := slots[strings.ToLower(k)]
		if !ok {
			return Rules{}, fmt.Errorf("unknown rule set %q", k)
		}
		if err := overrides[k].Validate(); err != nil {
			return Rules{}, fmt.Errorf("rule set %q: %w", k, err)
		}
		*slot = append(locator.Ranked(nil), overrides[k]...)
	}
	return out, nil
}

// Validate checks every rule set.
func (r Rules) Validate() error {
	slots := r.byKey()
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := slots[k].Validate(); err != nil {
			return fmt.Errorf("rule set %q: %w", k, err)
		}
	}
	return nil
}
