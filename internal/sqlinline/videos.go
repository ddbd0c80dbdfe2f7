package sqlinline

const QSelectVideo = `--sql 7f3d2a91-4c6b-4e0d-9a52-1b8f6c3e7a04
select id, source_url, media_key, transcript, analysis_json, variants_json,
       status, failed_stage, failure_reason, created_at, updated_at
from videos
where id = $1;
`

// QClaimVideoRun is the compare-and-swap guarding the one-active-run-per-video
// invariant across processes. It only transitions out of a settled status and
// clears any previous failure detail.
const QClaimVideoRun = `--sql b2e84f07-93da-4a1c-8e6f-0d5c2b7a9e31
update videos
set status = $2,
    failed_stage = null,
    failure_reason = null,
    updated_at = now()
where id = $1
  and status in ('idle', 'failed', 'complete')
returning id;
`

// QSetVideoMediaKey writes the media locator at most once; a concurrent or
// repeated write keeps the existing key.
const QSetVideoMediaKey = `--sql 5a91c3de-67f2-4b8a-a0d4-3e6b9f218c57
update videos
set media_key = coalesce(media_key, $2),
    updated_at = now()
where id = $1;
`

const QSetVideoTranscript = `--sql e06b7d24-1f9a-4c35-b8e1-72a4d5f0c698
update videos
set transcript = $2,
    updated_at = now()
where id = $1;
`

const QSetVideoAnalysis = `--sql 948a1e5c-2d70-4f6b-9c38-e51b04d7a2f9
update videos
set analysis_json = $2,
    updated_at = now()
where id = $1;
`

const QSetVideoVariants = `--sql 3c57f9b1-8a04-4d2e-b76c-94e1a0f5d823
update videos
set variants_json = $2,
    updated_at = now()
where id = $1;
`

const QSetVideoStatus = `--sql d18e42a6-5b93-4c07-8f2d-67c0b3a9e145
update videos
set status = $2,
    failed_stage = null,
    failure_reason = null,
    updated_at = now()
where id = $1;
`

const QSetVideoFailed = `--sql 6f2a90d3-e47c-4b18-a5e9-08d6c1f4b372
update videos
set status = 'failed',
    failed_stage = $2,
    failure_reason = $3,
    updated_at = now()
where id = $1;
`
