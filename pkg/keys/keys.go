// Package keys names the metadata fields shared by the backend, the indexes and
// the item facade.
package keys

// Identity and naming.
const (
	Name         = "name"
	Names        = "names"
	NameSort     = "name_sort"
	NameExact    = "name_exact"
	NameOld      = "name_old"
	Namespace    = "namespace"
	ItemID       = "itemid"
	RevID        = "revid"
	RevNumber    = "rev_number"
	ParentID     = "parentid"
	DataID       = "dataid"
	WikiName     = "wikiname"
	BackendName  = "backendname"
	ItemType     = "itemtype"
	ContentType  = "contenttype"
	Language     = "language"
	FQName       = "fqname"
	NameNGram    = "name_ngram"
	CurrentRevID = "current"
)

// Revision bookkeeping.
const (
	MTime         = "mtime"
	PTime         = "ptime"
	Size          = "size"
	HashAlgorithm = "sha1"
	Action        = "action"
	Comment       = "comment"
	Summary       = "summary"
	SummaryNGram  = "summary_ngram"
	Trash         = "trash"
	UserID        = "userid"
	Address       = "address"
	Hostname      = "hostname"
	Content       = "content"
	ContentNGram  = "content_ngram"
)

// Current state of an item.
const (
	Tags              = "tags"
	HasTag            = "has_tag"
	ACL               = "acl"
	ItemLinks         = "itemlinks"
	ItemTransclusions = "itemtransclusions"
	ExternalLinks     = "externallinks"
)

// User profiles.
const (
	Email                = "email"
	MailtoAuthor         = "mailto_author"
	Disabled             = "disabled"
	Locale               = "locale"
	Subscriptions        = "subscriptions"
	SubscriptionIDs      = "subscription_ids"
	SubscriptionPatterns = "subscription_patterns"
	NameRE               = "namere"
	NamePrefix           = "nameprefix"
)

// Tickets.
const (
	Effort       = "effort"
	Difficulty   = "difficulty"
	Severity     = "severity"
	Priority     = "priority"
	AssignedTo   = "assigned_to"
	ReplyTo      = "reply_to"
	RefersTo     = "refers_to"
	Element      = "element"
	SupersededBy = "superseded_by"
	DependsOn    = "depends_on"
	Closed       = "closed"
)

// Index names.
const (
	AllRevs    = "all_revs"
	LatestRevs = "latest_revs"
)

// Indexes lists both index generations in creation order.
var Indexes = []string{AllRevs, LatestRevs}

// Actions recorded on revisions.
const (
	ActionSave    = "SAVE"
	ActionRevert  = "REVERT"
	ActionTrash   = "TRASH"
	ActionCopy    = "COPY"
	ActionRename  = "RENAME"
	ActionDestroy = "DESTROY"
)

// Content types with special handling.
const (
	ContentTypeDefault  = "text/plain;charset=utf-8"
	ContentTypeUser     = "text/x.moin.userprofile"
	ContentTypeMarkdown = "text/x-markdown;charset=utf-8"
)

// UUIDLen is the length of generated item, revision and data ids.
const UUIDLen = 32

// HashLen is the length of a hex encoded sha1 digest.
const HashLen = 40
