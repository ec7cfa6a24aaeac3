package client

import "testing"

func TestBuildQueryString(t *testing.T) {
	tests := []struct {
		name   string
		params []param
		want   string
	}{
		{
			name:   "order preserved",
			params: []param{{"q", "x"}, {"count", "100"}, {"include_entities", "0"}},
			want:   "q=x&count=100&include_entities=0",
		},
		{
			name:   "reserved characters encoded",
			params: []param{{"q", "go lang&#rust=1+2"}},
			want:   "q=go%20lang%26%23rust%3D1%2B2",
		},
		{
			name:   "unreserved characters kept",
			params: []param{{"q", "a-b_c.d~e"}},
			want:   "q=a-b_c.d~e",
		},
		{
			name:   "utf-8 percent encoded",
			params: []param{{"q", "café"}},
			want:   "q=caf%C3%A9",
		},
		{
			name: "empty",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQueryString(tt.params); got != tt.want {
				t.Errorf("buildQueryString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPageURLs(t *testing.T) {
	base := "https://api.example.com"

	if got, want := firstPageURL(base, "golang"), base+"/1.1/search/tweets.json?q=golang&count=100&include_entities=0"; got != want {
		t.Errorf("firstPageURL() = %q, want %q", got, want)
	}

	if got, want := nextPageURL(base, "?max_id=9&q=golang"), base+"/1.1/search/tweets.json?max_id=9&q=golang&include_entities=0"; got != want {
		t.Errorf("nextPageURL() = %q, want %q", got, want)
	}

	if got, want := nextPageURL(base, "max_id=9"), base+"/1.1/search/tweets.json?max_id=9&include_entities=0"; got != want {
		t.Errorf("nextPageURL() without leading ? = %q, want %q", got, want)
	}
}

func TestBasicCredentials(t *testing.T) {
	if got := BasicCredentials("key", "secret"); got != "a2V5OnNlY3JldA==" {
		t.Errorf("BasicCredentials() = %q", got)
	}
}
